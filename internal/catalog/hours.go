package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"order-concierge/internal/domain"
)

// Override forces the store open or closed regardless of the schedule.
type Override string

const (
	OverrideNone   Override = ""
	OverrideOpen   Override = "open"
	OverrideClosed Override = "closed"
)

// Day is the opening window of one weekday, as "HH:MM" wall-clock times in
// the store's zone. Close is exclusive.
type Day struct {
	Active bool   `mapstructure:"active" yaml:"active"`
	Open   string `mapstructure:"open" yaml:"open"`
	Close  string `mapstructure:"close" yaml:"close"`
}

// Hours computes the store status from a weekly schedule.
type Hours struct {
	week     [7]Day
	loc      *time.Location
	override Override
	now      func() time.Time
}

// NewHours validates a schedule keyed by weekday. Missing days are closed.
func NewHours(week map[time.Weekday]Day, utcOffsetHours int, override Override) (*Hours, error) {
	switch override {
	case OverrideNone, OverrideOpen, OverrideClosed:
	default:
		return nil, fmt.Errorf("catalog: unknown override %q", override)
	}
	h := &Hours{
		loc:      time.FixedZone(fmt.Sprintf("UTC%+d", utcOffsetHours), utcOffsetHours*3600),
		override: override,
		now:      time.Now,
	}
	for wd, d := range week {
		if wd < time.Sunday || wd > time.Saturday {
			return nil, fmt.Errorf("catalog: invalid weekday %d", wd)
		}
		if d.Active {
			open, err := clockMinutes(d.Open)
			if err != nil {
				return nil, fmt.Errorf("catalog: %s open: %w", wd, err)
			}
			closing, err := clockMinutes(d.Close)
			if err != nil {
				return nil, fmt.Errorf("catalog: %s close: %w", wd, err)
			}
			if closing <= open {
				return nil, fmt.Errorf("catalog: %s closes at %s before opening at %s", wd, d.Close, d.Open)
			}
		}
		h.week[wd] = d
	}
	return h, nil
}

func clockMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Status reports whether the store is open at t.
func (h *Hours) Status(t time.Time) domain.StoreStatus {
	switch h.override {
	case OverrideClosed:
		return domain.StoreStatus{Open: false, Message: "Estamos temporariamente fechados. Voltamos em breve!"}
	case OverrideOpen:
		return domain.StoreStatus{Open: true, Message: "Estamos abertos!"}
	}
	local := t.In(h.loc)
	day := h.week[local.Weekday()]
	if !day.Active {
		return domain.StoreStatus{Open: false, Message: "Estamos fechados hoje."}
	}
	open, _ := clockMinutes(day.Open)
	closing, _ := clockMinutes(day.Close)
	now := local.Hour()*60 + local.Minute()
	if now >= open && now < closing {
		return domain.StoreStatus{Open: true, Message: "Estamos abertos!"}
	}
	return domain.StoreStatus{Open: false, Message: fmt.Sprintf("Nosso horário hoje é das %s às %s.", day.Open, day.Close)}
}

// FetchStoreStatus lets Hours stand in for the remote status endpoint.
func (h *Hours) FetchStoreStatus(context.Context) (domain.StoreStatus, error) {
	return h.Status(h.now()), nil
}

var weekdayNames = [7]string{"Domingo", "Segunda", "Terça", "Quarta", "Quinta", "Sexta", "Sábado"}

// Describe renders the weekly schedule for the hours quick reply.
func (h *Hours) Describe() string {
	var b strings.Builder
	b.WriteString("Nosso horário de funcionamento:")
	for i := 1; i <= 7; i++ {
		wd := time.Weekday(i % 7)
		d := h.week[wd]
		if d.Active {
			fmt.Fprintf(&b, "\n%s: %s às %s", weekdayNames[wd], d.Open, d.Close)
		} else {
			fmt.Fprintf(&b, "\n%s: fechado", weekdayNames[wd])
		}
	}
	return b.String()
}
