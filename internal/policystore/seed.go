// Package policystore loads SLA policies and business calendars from a TOML seed file.
package policystore

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/case-engine/internal/domain"
	"github.com/spec-kit/case-engine/internal/repository"
	"github.com/spec-kit/case-engine/internal/sla"
)

// SeedFile is the root of the TOML document.
type SeedFile struct {
	Calendars []Calendar `toml:"calendar"`
	Policies  []Policy   `toml:"policy"`
}

// Calendar is one [[calendar]] table. Hours maps a lower-case weekday to "HH:MM-HH:MM".
type Calendar struct {
	ID       string            `toml:"id"`
	Timezone string            `toml:"timezone"`
	Hours    map[string]string `toml:"hours"`
	Holidays []string          `toml:"holidays"`
}

// Policy is one [[policy]] table. Targets map a priority to a Go duration string.
type Policy struct {
	ID                  string            `toml:"id"`
	TenantID            string            `toml:"tenant_id"`
	Name                string            `toml:"name"`
	Default             bool              `toml:"default"`
	Active              *bool             `toml:"active"`
	Calendar            string            `toml:"calendar"`
	RequireChildClosure bool              `toml:"require_child_closure"`
	EscalationTriggers  []string          `toml:"escalation_triggers"`
	EscalationTier      int               `toml:"escalation_tier"`
	FirstResponse       map[string]string `toml:"first_response"`
	Resolution          map[string]string `toml:"resolution"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Load reads and parses path.
func Load(path string) (*SeedFile, error) {
	// #nosec G304 - path comes from operator configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read policy seed file", goerr.V("path", path))
	}
	seed, err := Parse(data)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid policy seed file", goerr.V("path", path))
	}
	return seed, nil
}

// Parse decodes a seed document.
func Parse(data []byte) (*SeedFile, error) {
	var seed SeedFile
	if err := toml.Unmarshal(data, &seed); err != nil {
		return nil, goerr.Wrap(err, "failed to parse TOML")
	}
	return &seed, nil
}

// BuildCalendars converts the calendar tables.
func (s *SeedFile) BuildCalendars() ([]*sla.BusinessCalendar, error) {
	out := make([]*sla.BusinessCalendar, 0, len(s.Calendars))
	seen := map[string]bool{}
	for _, c := range s.Calendars {
		if seen[c.ID] {
			return nil, goerr.New("duplicate calendar id", goerr.V("id", c.ID))
		}
		seen[c.ID] = true

		hours := make(map[time.Weekday]sla.Window, len(c.Hours))
		for day, raw := range c.Hours {
			wd, ok := weekdays[strings.ToLower(day)]
			if !ok {
				return nil, goerr.New("unknown weekday", goerr.V("calendar", c.ID), goerr.V("day", day))
			}
			w, err := parseWindow(raw)
			if err != nil {
				return nil, goerr.Wrap(err, "invalid working hours", goerr.V("calendar", c.ID), goerr.V("day", day))
			}
			hours[wd] = w
		}
		timezone := c.Timezone
		if timezone == "" {
			timezone = "UTC"
		}
		cal, err := sla.NewBusinessCalendar(c.ID, timezone, hours, c.Holidays)
		if err != nil {
			return nil, err
		}
		out = append(out, cal)
	}
	return out, nil
}

// BuildPolicies converts the policy tables into validated domain policies.
func (s *SeedFile) BuildPolicies() ([]domain.SLAPolicy, error) {
	calendars := map[string]bool{}
	for _, c := range s.Calendars {
		calendars[c.ID] = true
	}

	out := make([]domain.SLAPolicy, 0, len(s.Policies))
	for _, p := range s.Policies {
		policy := domain.SLAPolicy{
			ID:                  p.ID,
			TenantID:            p.TenantID,
			Name:                p.Name,
			IsDefault:           p.Default,
			IsActive:            p.Active == nil || *p.Active,
			RequireChildClosure: p.RequireChildClosure,
			EscalationTier:      p.EscalationTier,
			Targets:             map[domain.MilestoneKind]map[domain.CasePriority]time.Duration{},
		}
		if p.Calendar != "" {
			if !calendars[p.Calendar] {
				return nil, goerr.New("policy references unknown calendar", goerr.V("policy", p.Name), goerr.V("calendar", p.Calendar))
			}
			cal := p.Calendar
			policy.CalendarID = &cal
		}
		for _, k := range p.EscalationTriggers {
			policy.EscalationTriggers = append(policy.EscalationTriggers, domain.MilestoneKind(strings.ToUpper(k)))
		}
		for kind, raw := range map[domain.MilestoneKind]map[string]string{
			domain.MilestoneFirstResponse: p.FirstResponse,
			domain.MilestoneResolution:    p.Resolution,
		} {
			targets, err := parseTargets(raw)
			if err != nil {
				return nil, goerr.Wrap(err, "invalid targets", goerr.V("policy", p.Name), goerr.V("kind", kind))
			}
			policy.Targets[kind] = targets
		}
		if err := policy.Validate(); err != nil {
			return nil, goerr.Wrap(err, "invalid policy", goerr.V("policy", p.Name))
		}
		out = append(out, policy)
	}
	return out, nil
}

// Apply registers calendars and upserts policies.
func (s *SeedFile) Apply(ctx context.Context, policies repository.PolicyRepository, calendars *sla.Calendars, logger *zap.Logger) error {
	cals, err := s.BuildCalendars()
	if err != nil {
		return err
	}
	built, err := s.BuildPolicies()
	if err != nil {
		return err
	}
	for _, cal := range cals {
		calendars.Register(cal)
	}
	for i := range built {
		if err := policies.Upsert(ctx, &built[i]); err != nil {
			return goerr.Wrap(err, "failed to store policy", goerr.V("policy", built[i].Name))
		}
		logger.Info("sla policy seeded",
			zap.String("policy_id", built[i].ID),
			zap.String("tenant_id", built[i].TenantID),
			zap.Bool("default", built[i].IsDefault))
	}
	return nil
}

func parseTargets(raw map[string]string) (map[domain.CasePriority]time.Duration, error) {
	out := make(map[domain.CasePriority]time.Duration, len(raw))
	for priority, value := range raw {
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid duration", goerr.V("priority", priority), goerr.V("value", value))
		}
		out[domain.CasePriority(strings.ToUpper(priority))] = d
	}
	return out, nil
}

// parseWindow parses "HH:MM-HH:MM".
func parseWindow(raw string) (sla.Window, error) {
	start, end, ok := strings.Cut(strings.TrimSpace(raw), "-")
	if !ok {
		return sla.Window{}, goerr.New("expected HH:MM-HH:MM", goerr.V("value", raw))
	}
	s, err := parseClock(start)
	if err != nil {
		return sla.Window{}, err
	}
	e, err := parseClock(end)
	if err != nil {
		return sla.Window{}, err
	}
	return sla.Window{StartMinute: s, EndMinute: e}, nil
}

func parseClock(raw string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return 0, goerr.New("expected HH:MM", goerr.V("value", raw))
	}
	hours, err := strconv.Atoi(h)
	if err != nil || hours < 0 || hours > 24 {
		return 0, goerr.New("invalid hour", goerr.V("value", raw))
	}
	minutes, err := strconv.Atoi(m)
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, goerr.New("invalid minute", goerr.V("value", raw))
	}
	return hours*60 + minutes, nil
}
