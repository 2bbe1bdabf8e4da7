// Package pacing decides which due actions a scheduler cycle may dispatch.
//
// Campaign settings are a flat key/value map. Missing keys take documented defaults; malformed
// values fall back to the default and are reported so the caller can log them.
package pacing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BTreeMap/CadencePipe/internal/util"
)

// Campaign settings keys.
const (
	KeyMaxLeadsPerCycle = "max_leads_per_cycle"
	KeySendDelaySeconds = "send_delay_seconds"
	KeyCallTimeStart    = "call_time_start"
	KeyCallTimeEnd      = "call_time_end"
	KeyCallDays         = "call_days"
	KeyTimezone         = "timezone"
	KeyMaxDailyCalls    = "max_daily_calls"
	KeyTestMode         = "test_mode"
	KeyTestEmail        = "test_email"
	KeyTestPhone        = "test_phone"
)

// Defaults.
const (
	DefaultMaxLeadsPerCycle = 50
	DefaultCallTimeStart    = "09:00"
	DefaultCallTimeEnd      = "17:00"
	// MaxSendDelay bounds the inter-send pause.
	MaxSendDelay = 60 * time.Second
	// TestSubjectPrefix is prepended to subjects in test mode.
	TestSubjectPrefix = "[TEST] "
)

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// Settings is the parsed pacing configuration of one campaign.
type Settings struct {
	MaxLeadsPerCycle int
	SendDelay        time.Duration

	// WindowDefined is true when either call time key is present.
	WindowDefined bool
	// CallStart and CallEnd are minutes after local midnight; the window is [CallStart, CallEnd).
	CallStart int
	CallEnd   int
	CallDays  [7]bool
	Location  *time.Location

	MaxDailyCalls int

	TestMode  bool
	TestEmail string
	TestPhone string
}

// DefaultSettings returns the settings of a campaign with no keys set.
func DefaultSettings() Settings {
	s := Settings{
		MaxLeadsPerCycle: DefaultMaxLeadsPerCycle,
		CallStart:        9 * 60,
		CallEnd:          17 * 60,
		Location:         time.UTC,
	}
	for d := time.Monday; d <= time.Friday; d++ {
		s.CallDays[d] = true
	}
	return s
}

// ParseSettings parses raw campaign settings. The returned Settings is always usable; the
// error lists every key that held an invalid value.
func ParseSettings(raw map[string]string) (Settings, error) {
	s := DefaultSettings()
	var errs []error
	bad := func(key, val string, err error) {
		errs = append(errs, fmt.Errorf("%s=%q: %w", key, val, err))
	}

	if v, ok := lookup(raw, KeyMaxLeadsPerCycle); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			bad(KeyMaxLeadsPerCycle, v, errors.New("must be a positive integer"))
		} else {
			s.MaxLeadsPerCycle = n
		}
	}
	if v, ok := lookup(raw, KeySendDelaySeconds); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			bad(KeySendDelaySeconds, v, errors.New("must be a non-negative number"))
		} else {
			s.SendDelay = min(time.Duration(f*float64(time.Second)), MaxSendDelay)
		}
	}

	start, hasStart := lookup(raw, KeyCallTimeStart)
	end, hasEnd := lookup(raw, KeyCallTimeEnd)
	s.WindowDefined = hasStart || hasEnd
	if hasStart {
		if m, err := parseClock(start); err != nil {
			bad(KeyCallTimeStart, start, err)
		} else {
			s.CallStart = m
		}
	}
	if hasEnd {
		if m, err := parseClock(end); err != nil {
			bad(KeyCallTimeEnd, end, err)
		} else {
			s.CallEnd = m
		}
	}
	if v, ok := lookup(raw, KeyCallDays); ok {
		days, err := parseDays(v)
		if err != nil {
			bad(KeyCallDays, v, err)
		} else {
			s.CallDays = days
		}
	}
	if v, ok := lookup(raw, KeyTimezone); ok {
		loc, err := time.LoadLocation(v)
		if err != nil {
			bad(KeyTimezone, v, err)
		} else {
			s.Location = loc
		}
	}
	if v, ok := lookup(raw, KeyMaxDailyCalls); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			bad(KeyMaxDailyCalls, v, errors.New("must be a non-negative integer"))
		} else {
			s.MaxDailyCalls = n
		}
	}
	if v, ok := lookup(raw, KeyTestMode); ok {
		b, valid := util.ParseBool(v)
		if !valid {
			bad(KeyTestMode, v, errors.New("must be a boolean"))
		} else {
			s.TestMode = b
		}
	}
	s.TestEmail = strings.TrimSpace(raw[KeyTestEmail])
	s.TestPhone = strings.TrimSpace(raw[KeyTestPhone])

	return s, errors.Join(errs...)
}

func lookup(raw map[string]string, key string) (string, bool) {
	v, ok := raw[key]
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// parseClock parses "HH:MM" into minutes after midnight. "24:00" is accepted as end of day.
func parseClock(v string) (int, error) {
	hh, mm, ok := strings.Cut(v, ":")
	if !ok {
		return 0, errors.New("expected HH:MM")
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, errors.New("expected HH:MM")
	}
	return h*60 + m, nil
}

func parseDays(v string) ([7]bool, error) {
	var days [7]bool
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if d, ok := weekdayNames[part]; ok {
			days[d] = true
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 6 {
			return days, fmt.Errorf("unknown weekday %q", part)
		}
		days[n] = true
	}
	return days, nil
}

// InCallWindow reports whether t falls inside the call window and on an active day, evaluated
// in the campaign's time zone. Without a defined window every time is inside.
func (s Settings) InCallWindow(t time.Time) bool {
	if !s.WindowDefined {
		return true
	}
	local := t.In(s.location())
	if !s.CallDays[local.Weekday()] {
		return false
	}
	m := local.Hour()*60 + local.Minute()
	if s.CallStart <= s.CallEnd {
		return m >= s.CallStart && m < s.CallEnd
	}
	// Overnight window such as 22:00-06:00.
	return m >= s.CallStart || m < s.CallEnd
}

// LocalDay is the campaign-local calendar day of t, used to key daily call counts.
func (s Settings) LocalDay(t time.Time) string {
	return t.In(s.location()).Format(time.DateOnly)
}

func (s Settings) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}
