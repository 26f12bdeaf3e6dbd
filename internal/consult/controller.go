// Package consult drives one party's view of a consultation call: it owns the
// meter, the video room handle and the end-of-call reporting.
package consult

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexconsult/consult-control-plane/internal/backend"
	"github.com/lexconsult/consult-control-plane/internal/billing"
	"github.com/lexconsult/consult-control-plane/internal/call"
	"github.com/lexconsult/consult-control-plane/internal/meter"
	"github.com/lexconsult/consult-control-plane/internal/metrics"
	"github.com/lexconsult/consult-control-plane/internal/model"
)

var (
	ErrWidgetUnavailable = errors.New("video widget unavailable")
	ErrNotOpen           = errors.New("session not open")
	ErrInvalidScore      = errors.New("rating score must be between 1 and 5")
	ErrForbidden         = errors.New("not a party to this consultation")
	ErrStaleInstance     = errors.New("session reopened by a newer page")
)

const (
	ClientRedirect = "/client/consultations/"
	LawyerRedirect = "/lawyer/consultations/"

	DefaultPaymentTimeout = 10 * time.Second
)

// Backend is the consultation backend the controller reports to.
type Backend interface {
	CapturePayment(ctx context.Context, req backend.PaymentRequest) (backend.PaymentResponse, error)
	SubmitRating(ctx context.Context, req backend.RatingRequest) error
}

// Sink receives everything the page renders.
type Sink interface {
	meter.Sink
	Outcome(model.Outcome)
}

type Controller struct {
	sessionID      string
	role           model.Role
	instanceID     string
	currency       string
	meter          *meter.Meter
	room           call.Room
	presence       bool
	backend        Backend
	sink           Sink
	paymentTimeout time.Duration
	log            zerolog.Logger

	unloading atomic.Bool
	doneAt    atomic.Int64 // unix nanos; zero while the call is running

	leftOnce sync.Once
	outcome  model.Outcome

	bg sync.WaitGroup
}

func RedirectFor(role model.Role) string {
	if role == model.RoleLawyer {
		return LawyerRedirect
	}
	return ClientRedirect
}

func (c *Controller) SessionID() string { return c.sessionID }

func (c *Controller) Role() model.Role { return c.role }

// InstanceID identifies the page that opened this controller.
func (c *Controller) InstanceID() string { return c.instanceID }

func (c *Controller) Meter() *meter.Meter { return c.meter }

// Snapshot is the current display without advancing the meter.
func (c *Controller) Snapshot() model.Display {
	return c.meter.Snapshot()
}

func (c *Controller) Tick(ctx context.Context) (model.Display, error) {
	return c.meter.Tick(ctx)
}

// ParticipantsChanged feeds a participant-joined or participant-left count to
// the meter.
func (c *Controller) ParticipantsChanged(count int) model.Display {
	return c.meter.SetParticipants(count)
}

// SyncPresence polls the room and applies the participant count.
func (c *Controller) SyncPresence(ctx context.Context) (int, error) {
	present, err := c.room.Participants(ctx)
	if err != nil {
		return 0, fmt.Errorf("presence %s: %w", c.sessionID, err)
	}
	c.meter.SetParticipants(len(present))
	return len(present), nil
}

// EndRequested handles the end button. The outcome follows from the
// left-meeting event the widget emits afterwards.
func (c *Controller) EndRequested(ctx context.Context) error {
	c.log.Info().Msg("end requested")
	if err := c.room.Leave(ctx); err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	return nil
}

// Unload marks the page as going away and forces a leave so the other party
// sees the departure at once. The record is kept for restore.
func (c *Controller) Unload(ctx context.Context) error {
	c.unloading.Store(true)
	c.markDone()
	c.meter.End()
	c.log.Info().Msg("page unloading")
	if err := c.room.Leave(ctx); err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	return nil
}

func (c *Controller) Unloading() bool {
	return c.unloading.Load()
}

// LeftMeeting runs the end-of-call path. It runs once; later calls return the
// first outcome. A left event caused by Unload yields OutcomeReload and has no
// side effects.
func (c *Controller) LeftMeeting(ctx context.Context) model.Outcome {
	if c.unloading.Load() {
		return model.Outcome{Kind: model.OutcomeReload}
	}
	c.leftOnce.Do(func() {
		c.markDone()
		c.outcome = c.finish(ctx)
		c.sink.Notify(model.Notification{
			SessionID: c.sessionID,
			Kind:      model.NotifySessionEnded,
			Message:   c.outcome.Message,
			Terminal:  true,
		})
		c.sink.Outcome(c.outcome)
	})
	return c.outcome
}

func (c *Controller) finish(ctx context.Context) model.Outcome {
	c.meter.End()
	redirect := RedirectFor(c.role)

	if c.role == model.RoleLawyer {
		metrics.Default().IncTermination("call_ended")
		return model.Outcome{Kind: model.OutcomeEnded, Message: "Session Ended.", RedirectURL: redirect}
	}

	cost := c.meter.Cost()
	if err := c.meter.Reset(ctx); err != nil {
		c.log.Error().Err(err).Msg("reset timer record failed")
	}
	metrics.Default().IncTermination("call_ended")

	if cost <= 0 {
		return model.Outcome{Kind: model.OutcomeFree, Message: "Session Ended.", PromptRating: true, RedirectURL: redirect}
	}

	amount := billing.FormatAmount(c.currency, cost)
	fallback := model.Outcome{
		Kind:        model.OutcomeFallback,
		Cost:        cost,
		Message:     "Session Ended. Total Estimated Deduction: " + amount,
		RedirectURL: redirect,
	}
	if c.backend == nil {
		return fallback
	}

	payCtx, cancel := context.WithTimeout(ctx, c.paymentTimeout)
	defer cancel()
	start := time.Now()
	resp, err := c.backend.CapturePayment(payCtx, backend.PaymentRequest{RoomID: c.sessionID, Amount: cost})
	switch {
	case err != nil:
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		metrics.Default().ObservePaymentReport(status, time.Since(start))
		c.log.Error().Err(err).Float64("cost", cost).Msg("payment report failed")
		return fallback
	case !resp.Succeeded():
		metrics.Default().ObservePaymentReport("rejected", time.Since(start))
		c.log.Warn().Str("status", resp.Status).Float64("cost", cost).Msg("payment not captured")
		return fallback
	}
	metrics.Default().ObservePaymentReport("success", time.Since(start))
	c.log.Info().Float64("cost", cost).Msg("payment captured")
	return model.Outcome{
		Kind:         model.OutcomePaid,
		Cost:         cost,
		Message:      "Session Ended. Payment of " + amount + " captured.",
		PromptRating: true,
		RedirectURL:  redirect,
	}
}

// SubmitRating sends the rating in the background and returns the redirect
// target straight away. The result of the submission is only logged.
func (c *Controller) SubmitRating(ctx context.Context, score int, review string) (string, error) {
	if c.role != model.RoleClient {
		return "", ErrForbidden
	}
	if score < 1 || score > 5 {
		return "", ErrInvalidScore
	}
	redirect := RedirectFor(c.role)
	if c.backend == nil {
		metrics.Default().IncRatingSubmission("skipped")
		return redirect, nil
	}
	req := backend.RatingRequest{RoomID: c.sessionID, Score: score, Review: review}
	bgCtx := context.WithoutCancel(ctx)
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		rctx, cancel := context.WithTimeout(bgCtx, c.paymentTimeout)
		defer cancel()
		if err := c.backend.SubmitRating(rctx, req); err != nil {
			metrics.Default().IncRatingSubmission("error")
			c.log.Warn().Err(err).Int("score", score).Msg("rating submission failed")
			return
		}
		metrics.Default().IncRatingSubmission("ok")
	}()
	return redirect, nil
}

func (c *Controller) markDone() {
	c.doneAt.CompareAndSwap(0, time.Now().UnixNano())
}

// Done reports whether the call has ended or the page unloaded, and when.
func (c *Controller) Done() (time.Time, bool) {
	n := c.doneAt.Load()
	if n == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}

// Wait blocks until background rating submissions have finished.
func (c *Controller) Wait() {
	c.bg.Wait()
}

type nopSink struct {
	meter.NopSink
}

func (nopSink) Outcome(model.Outcome) {}
