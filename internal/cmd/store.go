package cmd

import (
	"errors"
	"fmt"
	"strings"

	"livewatch/internal/app"
	"livewatch/internal/config"
	"livewatch/internal/storage"
	"livewatch/internal/stream"
	logx "livewatch/pkg/logx"
)

// openStore opens only the configured store; account and event commands
// need nothing else.
func openStore(opts *rootOptions) (storage.Store, error) {
	cfg, err := config.NewConfigManager(opts.configPath).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	rt, err := app.MapConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if rt.Storage.Driver == "memory" {
		return nil, fmt.Errorf("storage.driver is memory; accounts would not survive this command")
	}
	st, err := storage.Open(rt.Storage, logx.NewConsole("warn"))
	if errors.Is(err, storage.ErrLocked) {
		return nil, fmt.Errorf("%w: stop the running tracker first, or use storage.driver sqlite to edit accounts while it runs", err)
	}
	return st, err
}

// resolveAccount finds an account by id, or by "platform/username".
func resolveAccount(accounts []stream.Account, ref string) (stream.Account, error) {
	ref = strings.TrimSpace(ref)
	for _, a := range accounts {
		if a.ID == ref {
			return a, nil
		}
	}
	if platform, user, ok := strings.Cut(ref, "/"); ok {
		p, err := stream.ParsePlatform(platform)
		if err != nil {
			return stream.Account{}, err
		}
		for _, a := range accounts {
			if a.Platform == p && strings.EqualFold(a.Username, strings.TrimSpace(user)) {
				return a, nil
			}
		}
	}
	return stream.Account{}, fmt.Errorf("%w: %s", storage.ErrNotFound, ref)
}
