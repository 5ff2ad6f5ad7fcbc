package loginflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/fedlogin/internal/flowdata"
	"github.com/dropDatabas3/fedlogin/internal/observability/logger"
	"github.com/dropDatabas3/fedlogin/internal/session"
	"go.uber.org/zap"
)

// transition is what a handler returns. A nil result means "continue with
// next in this same request"; otherwise the request ends and next is the
// step the following request resumes at.
type transition struct {
	next   Step
	result *Result
}

type handler func(ctx context.Context, a *attempt) (transition, error)

// attempt is the per-request view of one login attempt.
type attempt struct {
	state     *FlowState
	carrier   session.Carrier
	store     *flowdata.Store
	req       Request
	principal string
	anonymous bool
	log       *zap.Logger
}

func (f *Flow) dispatchTable() map[Step]handler {
	return map[Step]handler{
		StepStart:             f.start,
		StepToken:             f.token,
		StepSetPassword:       f.setPassword,
		StepCreateUser:        f.createUser,
		StepDelegatedRedirect: f.delegatedRedirect,
		StepResume:            f.resume,
		StepSucceed:           f.succeed,
		StepAbandon:           f.abandon,
	}
}

// maxTransitions is a safety net on the internal transitions of one request.
// Real chains stay well below it.
const maxTransitions = 8

// Process advances the attempt stored in carrier by one request. The carrier
// is read and written; the caller persists it afterwards.
func (f *Flow) Process(ctx context.Context, carrier session.Carrier, req Request) (Result, error) {
	if carrier == nil {
		return Result{}, fail(KindConfiguration, StepStart, ErrNoCarrier)
	}

	st, err := loadState(carrier, f.cfg.Provider)
	if err != nil {
		// An unreadable state cannot be resumed; start over.
		logger.From(ctx).Warn("discarding flow state", logger.Provider(f.cfg.Provider), logger.Err(err))
		clearState(carrier, f.cfg.Provider)
		st = nil
	}
	if st != nil && st.Step == StepToken && !f.strategy.IsCallback(req) {
		// The user came back without an authorization response: restart.
		f.discard(carrier, st)
		st = nil
	}
	if st == nil {
		st = &FlowState{Step: StepStart, Provider: f.cfg.Provider, AttemptID: f.newAttemptID()}
	}

	ctx = logger.WithFlow(ctx, st.Provider, st.AttemptID)
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("loginflow"))

	store, err := flowdata.New(carrier, st.Provider, st.AttemptID)
	if err != nil {
		return Result{}, fail(KindInternal, st.Step, err)
	}

	a := &attempt{state: st, carrier: carrier, store: store, req: req, log: log}
	res, err := f.run(ctx, a)
	if err != nil {
		var fe *FlowError
		if !errors.As(err, &fe) {
			fe = fail(KindInternal, a.state.Step, err)
		}
		log.Warn("login attempt failed",
			logger.Step(string(fe.Step)),
			logger.String("kind", fe.Kind.String()),
			logger.Err(fe.Err),
		)
		f.discard(carrier, a.state)
		f.observer.Outcome(f.cfg.Provider, OutcomeError)
		return Result{}, fe
	}
	f.observer.Outcome(f.cfg.Provider, res.Outcome)
	return res, nil
}

func (f *Flow) run(ctx context.Context, a *attempt) (Result, error) {
	for i := 0; i < maxTransitions; i++ {
		step := a.state.Step
		h, ok := f.handlers[step]
		if !ok {
			return Result{}, fail(KindInternal, step, fmt.Errorf("%w: %q", ErrUnknownStep, step))
		}

		started := time.Now()
		tr, err := h(ctx, a)
		f.observer.StepDone(f.cfg.Provider, step, time.Since(started))
		if err != nil {
			return Result{}, err
		}

		if tr.next != step {
			a.log.Debug("step transition", logger.String("from", string(step)), logger.String("to", string(tr.next)))
			f.observer.Transition(f.cfg.Provider, step, tr.next)
		}
		a.state.Step = tr.next

		if tr.result == nil {
			continue
		}
		res := *tr.result
		res.Step = tr.next
		if tr.next.Terminal() {
			f.discard(a.carrier, a.state)
		} else if err := saveState(a.carrier, a.state); err != nil {
			return Result{}, fail(KindInternal, tr.next, err)
		}
		return res, nil
	}
	return Result{}, fail(KindInternal, a.state.Step, errors.New("too many transitions in one request"))
}

// discard removes the state and flow data of st from carrier.
func (f *Flow) discard(carrier session.Carrier, st *FlowState) {
	if store, err := flowdata.New(carrier, st.Provider, st.AttemptID); err == nil {
		store.Clear()
	}
	clearState(carrier, st.Provider)
}
