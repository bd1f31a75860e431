// Package scheduler drives all status checks from a single timer loop.
//
// Each pass reads the account list, plans which accounts are due, and either
// runs one check cycle over the whole due batch or arms one timer for the
// earliest next check. There is no per-account timer. Cycles never overlap:
// scheduled and manual cycles serialize on the same lock, so checks of one
// account are strictly ordered.
//
// Accounts without a schedule (new or reset) are due after a short grace
// delay counted from the first pass that saw them unscheduled. Live accounts
// left unscheduled because online checks are disabled are parked and skipped
// until online checks are re-enabled or a manual check runs.
package scheduler
