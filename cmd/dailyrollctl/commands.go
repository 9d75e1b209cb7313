package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"dailyroll/internal/attendance/models"
	"dailyroll/internal/attendance/service"
	"dailyroll/pkg/requestcontext"
)

// Ledger is the slice of the attendance service the commands use.
type Ledger interface {
	FetchToday(ctx context.Context) ([]models.AttendanceRecord, error)
	Stats(ctx context.Context) (*models.DailyStats, error)
	CheckIn(ctx context.Context, identity, name string) (*service.Result, error)
	CancelCheckIn(ctx context.Context, identity string) (*service.Result, error)
}

// Globals is bound into every command's Run. Location renders check-in
// times; nil uses the local zone.
type Globals struct {
	Ctx      context.Context
	Service  Ledger
	Out      io.Writer
	Format   string
	Location *time.Location
}

type resultJSON struct {
	Success   bool                      `json:"success"`
	Reason    models.AbortReason        `json:"reason,omitempty"`
	Message   string                    `json:"message,omitempty"`
	Attendees []models.AttendanceRecord `json:"attendees,omitempty"`
}

// errRejected marks a command the ledger refused; the reason is already printed.
var errRejected = errors.New("rejected")

type TodayCmd struct{}

func (c *TodayCmd) Run(g *Globals) error {
	attendees, err := g.Service.FetchToday(g.ctx())
	if err != nil {
		return err
	}
	return g.printAttendees(attendees)
}

type StatsCmd struct{}

func (c *StatsCmd) Run(g *Globals) error {
	stats, err := g.Service.Stats(g.ctx())
	if err != nil {
		return err
	}
	if g.Format == "json" {
		return g.printJSON(stats)
	}
	_, err = fmt.Fprintf(g.Out, "%s\t%d\n", stats.Date, stats.Count)
	return err
}

type CheckInCmd struct {
	Identity string `arg:"" help:"Participant identity."`
	Name     string `arg:"" help:"Display name, 1 to 10 characters."`
}

func (c *CheckInCmd) Run(g *Globals) error {
	res, err := g.Service.CheckIn(g.ctx(), c.Identity, c.Name)
	if err != nil {
		return err
	}
	return g.printResult(res)
}

type CancelCmd struct {
	Identity string `arg:"" help:"Participant identity."`
}

func (c *CancelCmd) Run(g *Globals) error {
	res, err := g.Service.CancelCheckIn(g.ctx(), c.Identity)
	if err != nil {
		return err
	}
	return g.printResult(res)
}

// ctx tags the call with a fresh request id so service logs can be correlated.
func (g *Globals) ctx() context.Context {
	return requestcontext.WithRequestID(g.Ctx, "cli-"+uuid.NewString())
}

func (g *Globals) printResult(res *service.Result) error {
	var err error
	switch {
	case g.Format == "json":
		err = g.printJSON(resultJSON(*res))
	case res.Success:
		err = g.printAttendees(res.Attendees)
	default:
		_, err = fmt.Fprintf(g.Out, "%s: %s\n", res.Reason, res.Message)
	}
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%w: %s", errRejected, res.Reason)
	}
	return nil
}

func (g *Globals) printAttendees(attendees []models.AttendanceRecord) error {
	if attendees == nil {
		attendees = []models.AttendanceRecord{}
	}
	if g.Format == "json" {
		return g.printJSON(map[string]any{"attendees": attendees})
	}
	w := tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
	for _, a := range attendees {
		at := time.UnixMilli(a.CheckedInAt)
		if g.Location != nil {
			at = at.In(g.Location)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", at.Format(time.TimeOnly), a.DisplayName, a.Identity)
	}
	return w.Flush()
}

func (g *Globals) printJSON(v any) error {
	enc := json.NewEncoder(g.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
