package alarms

import "errors"

// ErrNotFound indicates a missing alarm record.
var ErrNotFound = errors.New("alarms: not found")

// ErrDuplicateAlarm indicates an alarm for the same analysis and severity
// already exists. Retried batches may legitimately hit this; callers log
// and swallow it.
var ErrDuplicateAlarm = errors.New("alarms: duplicate alarm for analysis and severity")

// ErrNotLinkable indicates an alarm could not be attached to an incident:
// the incident is already resolved or closed, the alarm is linked to a
// different incident, or either record is missing.
var ErrNotLinkable = errors.New("alarms: alarm not linkable to incident")
