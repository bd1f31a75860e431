package stream

import "time"

// Schedule is the output of the smart-checking policy for one account.
// NextCheckAt == nil means the account is not scheduled (live while online
// checks are disabled, or reset).
type Schedule struct {
	NextCheckAt              *time.Time
	Interval                 time.Duration
	ConsecutiveOfflineChecks int
}

// Patch is a partial account update. Nil fields are left untouched.
// Schedule, when set, replaces NextCheckAt, CurrentInterval and
// ConsecutiveOfflineChecks together.
type Patch struct {
	DisplayName   *string
	Enabled       *bool
	LastStatus    *Status
	LastTitle     *string
	LastCheckedAt *time.Time
	Schedule      *Schedule
}

func (p Patch) Empty() bool {
	return p.DisplayName == nil && p.Enabled == nil && p.LastStatus == nil &&
		p.LastTitle == nil && p.LastCheckedAt == nil && p.Schedule == nil
}

// Apply mutates a in place.
func (p Patch) Apply(a *Account) {
	if a == nil {
		return
	}
	if p.DisplayName != nil {
		a.DisplayName = *p.DisplayName
	}
	if p.Enabled != nil {
		a.Enabled = *p.Enabled
	}
	if p.LastStatus != nil {
		a.LastStatus = *p.LastStatus
	}
	if p.LastTitle != nil {
		a.LastTitle = *p.LastTitle
	}
	if p.LastCheckedAt != nil {
		a.LastCheckedAt = cloneTime(p.LastCheckedAt)
	}
	if p.Schedule != nil {
		a.NextCheckAt = cloneTime(p.Schedule.NextCheckAt)
		a.CurrentInterval = p.Schedule.Interval
		a.ConsecutiveOfflineChecks = p.Schedule.ConsecutiveOfflineChecks
	}
}

// ResetPatch clears the observed status and the schedule so the account is
// picked up again as if freshly added.
func ResetPatch() Patch {
	st := StatusUnknown
	title := ""
	return Patch{
		LastStatus: &st,
		LastTitle:  &title,
		Schedule:   &Schedule{},
	}
}

// ObservationPatch records the result of one check plus the new schedule.
func ObservationPatch(o Outcome, at time.Time, sched Schedule) Patch {
	st := StatusOf(o.IsLive)
	title := o.Title
	return Patch{
		LastStatus:    &st,
		LastTitle:     &title,
		LastCheckedAt: &at,
		Schedule:      &sched,
	}
}
