package strategy

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"livewatch/internal/credential"
	"livewatch/internal/stream"
)

// Endpoints holds the built-in API endpoints.
var Endpoints = map[stream.Platform]Endpoint{
	stream.PlatformTwitch:  twitchEndpoint,
	stream.PlatformKick:    kickEndpoint,
	stream.PlatformYouTube: youtubeEndpoint,
}

func bearerHeader(tok credential.Token) http.Header {
	h := http.Header{}
	if tok.Kind == credential.KindBearer && tok.Value != "" {
		h.Set("Authorization", "Bearer "+tok.Value)
	}
	return h
}

func resolve(base *url.URL, path string, q url.Values) *url.URL {
	u := base.ResolveReference(&url.URL{Path: strings.TrimRight(base.Path, "/") + path})
	u.RawQuery = q.Encode()
	return u
}

func validJSON(body []byte) error {
	if !gjson.ValidBytes(body) {
		return fmt.Errorf("invalid json response")
	}
	return nil
}

// Twitch Helix: GET /helix/streams?user_login=<login>; an entry with
// type=live means the channel is live.
var twitchEndpoint = Endpoint{
	DefaultBaseURL: "https://api.twitch.tv",
	Request: func(base *url.URL, username string, tok credential.Token) (*url.URL, http.Header) {
		h := bearerHeader(tok)
		if tok.ClientID != "" {
			h.Set("Client-Id", tok.ClientID)
		}
		return resolve(base, "/helix/streams", url.Values{"user_login": {strings.ToLower(username)}}), h
	},
	Parse: func(body []byte, username string) (stream.CheckResult, error) {
		if err := validJSON(body); err != nil {
			return stream.CheckResult{}, err
		}
		live := gjson.GetBytes(body, `data.#(type=="live")`)
		if !live.Exists() {
			return stream.CheckResult{}, nil
		}
		return stream.CheckResult{IsLive: true, Title: live.Get("title").String()}, nil
	},
}

// Kick public API: GET /public/v1/channels?slug=<slug>.
var kickEndpoint = Endpoint{
	DefaultBaseURL: "https://api.kick.com",
	Request: func(base *url.URL, username string, tok credential.Token) (*url.URL, http.Header) {
		return resolve(base, "/public/v1/channels", url.Values{"slug": {strings.ToLower(username)}}), bearerHeader(tok)
	},
	Parse: func(body []byte, username string) (stream.CheckResult, error) {
		if err := validJSON(body); err != nil {
			return stream.CheckResult{}, err
		}
		ch := gjson.GetBytes(body, "data.0")
		if !ch.Exists() {
			return stream.CheckResult{}, fmt.Errorf("channel %q not found", username)
		}
		if !ch.Get("stream.is_live").Bool() {
			return stream.CheckResult{}, nil
		}
		return stream.CheckResult{IsLive: true, Title: ch.Get("stream_title").String()}, nil
	},
}

// YouTube Data API: search for a live video on the channel. Usernames are
// channel ids (UC...).
var youtubeEndpoint = Endpoint{
	DefaultBaseURL: "https://www.googleapis.com",
	Request: func(base *url.URL, username string, tok credential.Token) (*url.URL, http.Header) {
		q := url.Values{
			"part":       {"snippet"},
			"channelId":  {username},
			"eventType":  {"live"},
			"type":       {"video"},
			"maxResults": {"1"},
		}
		if tok.Kind == credential.KindAPIKey {
			q.Set("key", tok.Value)
		}
		return resolve(base, "/youtube/v3/search", q), bearerHeader(tok)
	},
	Parse: func(body []byte, username string) (stream.CheckResult, error) {
		if err := validJSON(body); err != nil {
			return stream.CheckResult{}, err
		}
		item := gjson.GetBytes(body, "items.0")
		if !item.Exists() {
			return stream.CheckResult{}, nil
		}
		return stream.CheckResult{IsLive: true, Title: item.Get("snippet.title").String()}, nil
	},
}
