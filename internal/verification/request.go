package verification

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"devtrust/internal/crypto"
	"devtrust/internal/domain"
)

const (
	// DefaultTimeout is how long a request stays valid after its timestamp.
	DefaultTimeout = 10 * time.Minute

	sendTimeout = 30 * time.Second
)

// Options configures a Request.
type Options struct {
	// Own is the local device.
	Own domain.Device
	// Methods are the verification methods we support.
	Methods Methods
	// Timeout overrides DefaultTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Request is the state machine of one verification attempt.
//
// Events reach it through its Channel, both from the other party and as
// echoes of our own sends. Any side effect that may re-enter the request
// (sending, verifier callbacks, listeners) runs after the lock is released.
type Request struct {
	channel Channel
	own     domain.Device
	methods Methods
	timeout time.Duration
	log     *slog.Logger

	mu               sync.Mutex
	phase            Phase
	byUs             map[EventType]*Event
	byThem           map[EventType]*Event
	history          []*Event
	chosenMethod     string
	commonMethods    []string
	cancellation     *Cancellation
	cancellingUser   domain.UserID
	cancelledByUs    bool
	requestTS        time.Time
	receivedAt       time.Time
	observeOnly      bool
	verifier         Verifier
	verifierStart    *Event
	verifierFinished bool
	// startInFlight is set while our verifier's start is being sent and its
	// echo has not been recorded yet.
	startInFlight bool
	qrCode           *QRCodeData
	timer            *time.Timer
	sending          bool
	listeners        map[int]func(*Request)
	nextListener     int
}

// NewRequest binds a new request to ch.
func NewRequest(ch Channel, opts Options) *Request {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Methods == nil {
		opts.Methods = Methods{}
	}
	r := &Request{
		channel:   ch,
		own:       opts.Own,
		methods:   opts.Methods,
		timeout:   opts.Timeout,
		log:       opts.Logger,
		byUs:      make(map[EventType]*Event),
		byThem:    make(map[EventType]*Event),
		listeners: make(map[int]func(*Request)),
	}
	ch.bind(r)
	return r
}

// effect is a side effect collected under the lock and run after it.
type effect func(ctx context.Context)

func run(ctx context.Context, fx []effect) {
	for _, f := range fx {
		f(ctx)
	}
}

// Channel returns the request's channel.
func (r *Request) Channel() Channel { return r.channel }

func (r *Request) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// ChosenMethod is the method of the winning start event, once Started.
func (r *Request) ChosenMethod() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chosenMethod
}

// CommonMethods are the methods both parties declared.
func (r *Request) CommonMethods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.commonMethods)
}

// Cancellation is the reason for a Cancelled request, or nil.
func (r *Request) Cancellation() *Cancellation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancellation
}

// CancellingUserID is the user whose cancel ended the request.
func (r *Request) CancellingUserID() domain.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancellingUser
}

// ObserveOnly reports whether this device only watches the request.
func (r *Request) ObserveOnly() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.observeOnly
}

// Pending reports whether the request is live and actionable here.
func (r *Request) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.observeOnly && !r.phase.Terminal()
}

// InitiatedByMe reports whether we sent the request, or the start when
// there was no request.
func (r *Request) InitiatedByMe() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initiatedByMeLocked()
}

func (r *Request) initiatedByMeLocked() bool {
	if r.byUs[EventRequest] != nil {
		return true
	}
	return r.byThem[EventRequest] == nil && r.byUs[EventStart] != nil
}

// RequestReceivedAt is the local time the request event was recorded.
func (r *Request) RequestReceivedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.receivedAt
}

// Verifier returns the verifier created for the chosen method, if any.
func (r *Request) Verifier() Verifier {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.verifier
}

// Events returns every event seen, in arrival order, including those that
// arrived after the request ended.
func (r *Request) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.history)
}

// Outcome reports how the request ended.
func (r *Request) Outcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.phase == PhaseDone:
		return OutcomeDone
	case r.phase != PhaseCancelled:
		return OutcomePending
	case r.cancellation != nil && r.cancellation.Code == CodeTimeout:
		return OutcomeTimedOut
	case r.cancelledByUs:
		return OutcomeCancelledByUs
	default:
		return OutcomeCancelledByThem
	}
}

// OnChange registers fn to be called after every phase or observe-only
// change. The returned func unregisters it.
func (r *Request) OnChange(fn func(*Request)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextListener
	r.nextListener++
	r.listeners[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// WaitFor blocks until pred holds. It fails with the request's
// Cancellation if the request is cancelled first, or with ctx's error.
func (r *Request) WaitFor(ctx context.Context, pred func(*Request) bool) error {
	wake := make(chan struct{}, 1)
	unsubscribe := r.OnChange(func(*Request) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		if pred(r) {
			return nil
		}
		if c := r.Cancellation(); c != nil {
			return c
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}

// SendRequest sends the initial request. Legal only from Unsent.
func (r *Request) SendRequest(ctx context.Context) error {
	if err := r.beginSend(func() error {
		if r.phase != PhaseUnsent || r.byThem[EventRequest] != nil {
			return ErrInvalidPhase
		}
		return nil
	}); err != nil {
		return err
	}
	defer r.endSend()
	return r.channel.Send(ctx, EventRequest, Content{keyMethods: r.methods.Names()})
}

// Accept answers the other party's request with our supported methods.
// Legal only from Requested on a request we did not send.
func (r *Request) Accept(ctx context.Context) error {
	if err := r.beginSend(func() error {
		if r.phase != PhaseRequested || r.initiatedByMeLocked() {
			return ErrInvalidPhase
		}
		return nil
	}); err != nil {
		return err
	}
	defer r.endSend()
	return r.channel.Send(ctx, EventReady, Content{keyMethods: r.methods.Names()})
}

// Cancel sends a cancel with code and reason. The request moves to
// Cancelled once the cancel is sent; if sending fails nothing changes.
func (r *Request) Cancel(ctx context.Context, code, reason string) error {
	c := &Cancellation{Code: code, Reason: reason}
	r.mu.Lock()
	switch {
	case r.phase.Terminal():
		r.mu.Unlock()
		return ErrInvalidPhase
	case r.observeOnly:
		r.mu.Unlock()
		return ErrObserveOnly
	case r.channel.TransactionID() == "":
		// Nothing was ever sent; there is no one to tell.
		fx := r.cancelLocked(c, false)
		r.mu.Unlock()
		run(ctx, fx)
		return nil
	}
	r.mu.Unlock()
	return r.channel.Send(ctx, EventCancel, c.content())
}

// BeginKeyVerification creates the verifier for method without sending
// anything; the caller starts it with Verify. The method must be in
// CommonMethods and target, when set, must be the device we talk to.
func (r *Request) BeginKeyVerification(method string, target domain.DeviceID) (Verifier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	unsent := r.phase == PhaseUnsent && r.channel.canStartWithoutRequest()
	switch {
	case r.observeOnly:
		return nil, ErrObserveOnly
	case !unsent && r.phase != PhaseReady && (r.phase != PhaseRequested || r.initiatedByMeLocked()):
		return nil, ErrInvalidPhase
	case !unsent && !slices.Contains(r.commonMethods, method):
		return nil, ErrMethodNotCommon
	case r.verifier != nil:
		return nil, ErrVerifierExists
	}
	if chosen := r.channel.DeviceID(); target != "" && chosen != "" && target != chosen {
		return nil, ErrWrongDevice
	}
	factory, ok := r.methods[method]
	if !ok {
		return nil, ErrMethodNotCommon
	}
	h := &host{r: r}
	r.verifier = factory(h, nil)
	r.verifierStart = nil
	h.v = r.verifier
	return r.verifier, nil
}

// GenerateQRCode creates the QR data this device shows for the request.
// The transaction id must be known.
func (r *Request) GenerateQRCode(mode QRMode, first, second domain.Ed25519Public) (*QRCodeData, error) {
	txn := r.channel.TransactionID()
	if txn == "" {
		return nil, ErrNoTransaction
	}
	secret, err := crypto.RandomBytes(qrSecretSize)
	if err != nil {
		return nil, err
	}
	q := &QRCodeData{Mode: mode, TransactionID: txn, FirstKey: first, SecondKey: second, Secret: secret}
	r.mu.Lock()
	r.qrCode = q
	r.mu.Unlock()
	return q, nil
}

// QRCode returns the QR data generated for this request, if any.
func (r *Request) QRCode() *QRCodeData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.qrCode
}

func (r *Request) beginSend(check func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.observeOnly:
		return ErrObserveOnly
	case r.sending:
		return ErrBusy
	}
	if err := check(); err != nil {
		return err
	}
	r.sending = true
	return nil
}

func (r *Request) endSend() {
	r.mu.Lock()
	r.sending = false
	r.mu.Unlock()
}

// accepted reports whether the request has been taken by a device.
func (r *Request) accepted() bool {
	p := r.Phase()
	return p == PhaseReady || p == PhaseStarted
}

// handleEvent is the single entry for events from the channel.
func (r *Request) handleEvent(ctx context.Context, ev *Event, d delivery) {
	r.mu.Lock()
	r.history = append(r.history, ev)
	if r.phase.Terminal() {
		r.mu.Unlock()
		r.log.Debug("recording event after request ended", "type", ev.Type, "phase", r.phase)
		return
	}

	wasObserveOnly := r.observeOnly
	if !d.live || d.onlooker {
		r.observeOnly = true
	}

	if !r.observeOnly && !d.echo && !d.byUs {
		if c := r.checkUnexpectedLocked(ev); c != nil {
			r.log.Warn("cancelling on unexpected event", "type", ev.Type, "sender", ev.Sender, "phase", r.phase)
			fx := r.cancelLocked(c, true)
			r.mu.Unlock()
			run(ctx, fx)
			return
		}
	}

	prevVerifier := r.verifier
	r.recordLocked(ev, d.byUs)

	var fx []effect
	if ev.Type == EventRequest && r.requestTS.IsZero() {
		ts, ok := r.channel.requestTimestamp(ev)
		if !ok {
			ts = time.Now()
		}
		r.requestTS, r.receivedAt = ts, time.Now()
		if time.Until(r.requestTS.Add(r.timeout)) <= 0 {
			r.log.Info("request already expired", "sender", ev.Sender, "observe_only", r.observeOnly)
			fx = r.cancelLocked(ErrTimeout, !r.observeOnly)
			r.mu.Unlock()
			run(ctx, fx)
			return
		}
	}

	fx = append(fx, r.transitionLocked(wasObserveOnly)...)

	if v := r.verifier; v != nil && v == prevVerifier && !r.observeOnly && !d.byUs {
		fx = append(fx, func(ctx context.Context) {
			if err := v.HandleEvent(ctx, ev); err != nil {
				r.log.Warn("verifier rejected event", "type", ev.Type, "err", err)
			}
		})
	}
	r.mu.Unlock()
	run(ctx, fx)
}

// checkUnexpectedLocked returns the cancellation an inbound event from the
// other party warrants, if any.
func (r *Request) checkUnexpectedLocked(ev *Event) *Cancellation {
	if ev.Type == EventStart {
		if _, ok := r.methods[ev.Content.String(keyMethod)]; !ok {
			return ErrUnknownMethod
		}
	}
	if r.phase == PhaseUnsent {
		return nil
	}
	unexpectedRequest := ev.Type == EventRequest
	unexpectedReady := ev.Type == EventReady && r.phase != PhaseRequested && r.phase != PhaseStarted
	if unexpectedRequest || unexpectedReady {
		return &Cancellation{
			Code:   CodeUnexpectedMessage,
			Reason: "unexpected " + string(ev.Type) + " in phase " + r.phase.String(),
		}
	}
	return nil
}

func (r *Request) recordLocked(ev *Event, byUs bool) {
	events := r.byThem
	if byUs {
		events = r.byUs
	}
	if ev.Type == EventStart && events[EventStart] != nil {
		return
	}
	events[ev.Type] = ev
}

func (r *Request) eventBy(typ EventType, byUs bool) *Event {
	if byUs {
		return r.byUs[typ]
	}
	return r.byThem[typ]
}

// winningStartLocked applies the start race rule when both sides started.
func (r *Request) winningStartLocked() (start *Event, byUs bool) {
	ours, theirs := r.byUs[EventStart], r.byThem[EventStart]
	switch {
	case ours != nil && theirs != nil:
		if startLess(theirs, ours) {
			return theirs, false
		}
		return ours, true
	case theirs != nil:
		return theirs, false
	default:
		return ours, ours != nil
	}
}

// startLess orders start events by (canonical content, sender, device).
func startLess(a, b *Event) bool {
	ca, cb := a.Content.Canonical(), b.Content.Canonical()
	if ca != cb {
		return ca < cb
	}
	if a.Sender != b.Sender {
		return a.Sender < b.Sender
	}
	return a.fromDevice() < b.fromDevice()
}

// computePhaseLocked derives the phase from the accumulated events.
func (r *Request) computePhaseLocked() (Phase, *Event) {
	phase := PhaseUnsent
	var start *Event

	request, requestByUs := r.byThem[EventRequest], false
	if r.byUs[EventRequest] != nil {
		request, requestByUs = r.byUs[EventRequest], true
	}
	if request != nil {
		phase = PhaseRequested
	}
	var ready *Event
	if request != nil {
		ready = r.eventBy(EventReady, !requestByUs)
	}
	if ready != nil && phase == PhaseRequested {
		phase = PhaseReady
	}

	if ready != nil || request == nil {
		start, _ = r.winningStartLocked()
	} else {
		start = r.eventBy(EventStart, !requestByUs)
	}
	if start != nil {
		fromRequested := phase == PhaseRequested && request.Sender != start.Sender
		fromUnsent := phase == PhaseUnsent && r.channel.canStartWithoutRequest()
		if fromRequested || phase == PhaseReady || fromUnsent {
			phase = PhaseStarted
		} else {
			start = nil
		}
	}

	if phase == PhaseStarted && (r.verifierFinished || (r.byUs[EventDone] != nil && r.verifier == nil)) {
		phase = PhaseDone
	}

	if phase != PhaseDone && (r.byThem[EventCancel] != nil || r.byUs[EventCancel] != nil) {
		phase = PhaseCancelled
	}
	return phase, start
}

// transitionLocked moves the request forward and returns the effects of
// the move. Phases never move backwards.
func (r *Request) transitionLocked(wasObserveOnly bool) []effect {
	var fx []effect
	r.updateCommonMethodsLocked()

	next, start := r.computePhaseLocked()
	prev := r.phase
	if next == PhaseCancelled {
		return r.cancelFromEventsLocked()
	}
	advanced := next > prev
	if advanced {
		r.phase = next
		r.log.Debug("phase transition", "txn", r.channel.TransactionID(), "from", prev, "phase", next)
	}
	if r.phase == PhaseStarted && start != nil {
		if r.ownStartPendingLocked() {
			// Their start is alone only until our echo is recorded.
			r.chosenMethod = r.verifier.Method()
		} else {
			r.chosenMethod = start.Content.String(keyMethod)
			fx = append(fx, r.ensureVerifierLocked(start)...)
		}
	}
	if advanced {
		if next.Terminal() {
			r.stopTimerLocked()
		} else {
			r.armTimerLocked()
		}
	}
	if advanced || wasObserveOnly != r.observeOnly {
		fx = append(fx, r.notifyLocked())
	}
	return fx
}

// ownStartPendingLocked reports whether our verifier is sending a start
// whose echo has not arrived, so the race cannot be decided yet.
func (r *Request) ownStartPendingLocked() bool {
	return r.startInFlight && r.byUs[EventStart] == nil && r.verifier != nil && r.verifierStart == nil
}

// ensureVerifierLocked makes the verifier match the winning start. A local
// verifier whose own start lost the race is aborted and replaced.
func (r *Request) ensureVerifierLocked(start *Event) []effect {
	if r.observeOnly {
		return nil
	}
	if _, startByUs := r.winningStartLocked(); startByUs || r.verifierStart == start {
		return nil
	}
	var fx []effect
	if old := r.verifier; old != nil {
		r.log.Info("our start lost the race", "txn", r.channel.TransactionID(), "method", r.chosenMethod)
		fx = append(fx, func(context.Context) { old.Cancel(errStartSuperseded) })
	}
	factory, ok := r.methods[r.chosenMethod]
	if !ok {
		r.verifier, r.verifierStart = nil, nil
		return fx
	}
	h := &host{r: r}
	r.verifier = factory(h, start)
	r.verifierStart = start
	h.v = r.verifier
	return fx
}

func (r *Request) updateCommonMethodsLocked() {
	var theirs []string
	if ev := r.byThem[EventReady]; ev != nil {
		theirs, _ = ev.Content.Strings(keyMethods)
	} else if ev := r.byThem[EventRequest]; ev != nil {
		theirs, _ = ev.Content.Strings(keyMethods)
	} else {
		return
	}
	common := make([]string, 0, len(theirs))
	for _, m := range theirs {
		if _, ok := r.methods[m]; ok && !slices.Contains(common, m) {
			common = append(common, m)
		}
	}
	r.commonMethods = common
}

// cancelFromEventsLocked enters Cancelled because a cancel event was
// recorded.
func (r *Request) cancelFromEventsLocked() []effect {
	ev, byUs := r.byThem[EventCancel], false
	if ev == nil {
		ev, byUs = r.byUs[EventCancel], true
	}
	r.phase = PhaseCancelled
	r.cancellation = cancellationFromContent(ev.Content)
	r.cancellingUser = ev.Sender
	r.cancelledByUs = byUs
	r.stopTimerLocked()
	r.log.Info("request cancelled", "txn", r.channel.TransactionID(), "code", r.cancellation.Code, "by_us", byUs)

	fx := []effect{r.notifyLocked()}
	if v := r.verifier; v != nil {
		c := r.cancellation
		fx = append([]effect{func(context.Context) { v.Cancel(c) }}, fx...)
	}
	return fx
}

// cancelLocked enters Cancelled on our own initiative and, when send is
// set, tells the other party afterwards.
func (r *Request) cancelLocked(c *Cancellation, send bool) []effect {
	r.phase = PhaseCancelled
	r.cancellation = c
	r.cancellingUser = r.own.UserID
	r.cancelledByUs = true
	r.stopTimerLocked()
	r.log.Info("cancelling request", "txn", r.channel.TransactionID(), "code", c.Code, "send", send)

	var fx []effect
	if v := r.verifier; v != nil {
		fx = append(fx, func(context.Context) { v.Cancel(c) })
	}
	if send && r.channel.TransactionID() != "" {
		fx = append(fx, func(ctx context.Context) {
			if err := r.channel.Send(ctx, EventCancel, c.content()); err != nil {
				r.log.Warn("failed to send cancel", "txn", r.channel.TransactionID(), "err", err)
			}
		})
	}
	return append(fx, r.notifyLocked())
}

// cancelInternal cancels from outside an event handler, e.g. on timeout or
// verifier failure.
func (r *Request) cancelInternal(ctx context.Context, c *Cancellation) {
	r.mu.Lock()
	if r.phase.Terminal() {
		r.mu.Unlock()
		return
	}
	fx := r.cancelLocked(c, !r.observeOnly)
	r.mu.Unlock()
	run(ctx, fx)
}

// finishVerifier records that the verifier completed and re-evaluates the
// phase.
// sendStart sends start for v. A verifier that is no longer the request's
// may not start; their start already won. While the send is in flight a
// start from the other party does not displace v, and if the send fails
// their start, if any, takes over.
func (r *Request) sendStart(ctx context.Context, v Verifier, content Content) error {
	r.mu.Lock()
	if r.verifier != v {
		r.mu.Unlock()
		return errStartSuperseded
	}
	r.startInFlight = true
	r.mu.Unlock()

	err := r.channel.Send(ctx, EventStart, content)

	r.mu.Lock()
	r.startInFlight = false
	var fx []effect
	if err != nil && !r.phase.Terminal() {
		fx = r.transitionLocked(r.observeOnly)
	}
	r.mu.Unlock()
	run(ctx, fx)
	return err
}

func (r *Request) finishVerifier(ctx context.Context) {
	r.mu.Lock()
	if r.phase.Terminal() {
		r.mu.Unlock()
		return
	}
	r.verifierFinished = true
	fx := r.transitionLocked(r.observeOnly)
	r.mu.Unlock()
	run(ctx, fx)
}

func (r *Request) notifyLocked() effect {
	fns := make([]func(*Request), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	return func(context.Context) {
		for _, fn := range fns {
			fn(r)
		}
	}
}

func (r *Request) armTimerLocked() {
	if r.timer != nil || r.requestTS.IsZero() {
		return
	}
	remaining := time.Until(r.requestTS.Add(r.timeout))
	r.timer = time.AfterFunc(remaining, r.expire)
}

func (r *Request) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Request) expire() {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	r.log.Info("verification request timed out", "txn", r.channel.TransactionID())
	r.cancelInternal(ctx, ErrTimeout)
}

// otherDeviceLocked is the device of the other party we are talking to.
func (r *Request) otherDeviceLocked() domain.DeviceID {
	if d := r.channel.DeviceID(); d != "" {
		return d
	}
	for _, typ := range []EventType{EventStart, EventReady, EventRequest} {
		if ev := r.byThem[typ]; ev != nil {
			return ev.fromDevice()
		}
	}
	return ""
}
