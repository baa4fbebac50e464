package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/ligai/internal/esl"
	"github.com/wolfman30/ligai/internal/events"
	"github.com/wolfman30/ligai/internal/llm"
	"github.com/wolfman30/ligai/internal/observability/metrics"
	"github.com/wolfman30/ligai/internal/speech"
	"github.com/wolfman30/ligai/pkg/logging"
)

const (
	DefaultGreeting = "Olá! Bem-vindo ao atendimento. Como posso ajudar você hoje?"
	DefaultApology  = "Desculpe, tive um problema. Pode repetir?"

	DefaultSystemPrompt = `Você é um assistente virtual de atendimento telefônico.
Seja cordial, objetivo e prestativo. Responda de forma natural e conversacional.
Se não entender algo, peça educadamente para repetir.

REGRAS OBRIGATÓRIAS:
1. Respostas MUITO CURTAS, no máximo 1-2 frases. Isso é uma ligação telefônica.
2. NUNCA comece com confirmações como "Entendi", "Compreendi", "Certo", "Ok", "Perfeito" ou "Claro"; o sistema já fala isso automaticamente.
3. Vá direto ao ponto.`

	finalizeTimeout = 10 * time.Second
	mirrorTimeout   = 2 * time.Second
)

// Services are the collaborators shared by every session. Switch,
// Recognizer, Synth, Replier and Clips are required.
type Services struct {
	Switch     Switch
	Recognizer speech.Recognizer
	Synth      speech.Synthesizer
	Replier    Replier
	Clips      ClipStore
	Fillers    FillerSource
	Recorder   Recorder
	Archiver   Archiver
	Notifier   events.Notifier
	Mirror     StateMirror
	Metrics    *metrics.CallMetrics
	Logger     *logging.Logger

	Greeting     string
	Apology      string
	SystemPrompt string
	FillerWait   time.Duration
	PlaybackPad  time.Duration
}

func (svc *Services) validate() error {
	switch {
	case svc == nil:
		return fmt.Errorf("%w: services", ErrMissingService)
	case svc.Switch == nil:
		return fmt.Errorf("%w: switch", ErrMissingService)
	case svc.Recognizer == nil:
		return fmt.Errorf("%w: recognizer", ErrMissingService)
	case svc.Synth == nil:
		return fmt.Errorf("%w: synthesizer", ErrMissingService)
	case svc.Replier == nil:
		return fmt.Errorf("%w: replier", ErrMissingService)
	case svc.Clips == nil:
		return fmt.Errorf("%w: clip store", ErrMissingService)
	}
	return nil
}

// VoiceSelector is implemented by synthesizers that can switch voice per call.
type VoiceSelector interface {
	WithVoice(voiceID string) speech.Synthesizer
}

// Params identify one call.
type Params struct {
	CallID    string
	ChannelID string
	Direction Direction
	Number    string
	Profile   Profile
}

// Session is the conversation state machine for one call. At most one turn
// runs at a time: only the event loop moves Idle to Processing, and only the
// running turn moves back to Idle.
type Session struct {
	params    Params
	svc       *Services
	synth     speech.Synthesizer
	logger    *logging.Logger
	startedAt time.Time

	mu           sync.Mutex
	state        State
	history      []llm.Message
	partial      string
	userSpeaking bool
	started      bool
	failErr      error

	stream   speech.Stream
	ctx      context.Context
	cancel   context.CancelFunc
	turns    sync.WaitGroup
	loopDone chan struct{}
	done     chan struct{}
	doneOnce sync.Once
	stopOnce sync.Once
}

// NewSession builds a session in the Speaking state; the greeting plays
// once Start succeeds.
func NewSession(p Params, svc *Services) (*Session, error) {
	if err := svc.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.CallID) == "" {
		return nil, errors.New("call: call id is required")
	}
	if p.ChannelID == "" {
		p.ChannelID = p.CallID
	}
	if p.Direction == "" {
		p.Direction = Inbound
	}
	logger := svc.Logger
	if logger == nil {
		logger = logging.Default()
	}
	synth := svc.Synth
	if vs, ok := synth.(VoiceSelector); ok && p.Profile.VoiceID != "" {
		synth = vs.WithVoice(p.Profile.VoiceID)
	}
	return &Session{
		params:    p,
		svc:       svc,
		synth:     synth,
		logger:    logger.With("call_id", p.CallID, "channel_id", p.ChannelID),
		startedAt: time.Now().UTC(),
		state:     StateSpeaking,
		loopDone:  make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

func (s *Session) CallID() string    { return s.params.CallID }
func (s *Session) ChannelID() string { return s.params.ChannelID }

// Done is closed when the session has ended, on its own or through Stop.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current conversation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the conversation so far.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.history...)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		CallID:    s.params.CallID,
		ChannelID: s.params.ChannelID,
		Direction: s.params.Direction,
		Number:    s.params.Number,
		State:     s.state.String(),
		Messages:  len(s.history),
		Speaking:  s.userSpeaking,
		Partial:   s.partial,
		StartedAt: s.startedAt,
	}
}

// Start connects speech recognition, begins consuming its events and plays
// the greeting. A recognizer failure ends the session.
func (s *Session) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	stream, err := s.svc.Recognizer.Connect(s.ctx)
	if err != nil {
		s.cancel()
		s.end()
		s.emit(events.CallFailed, map[string]any{
			"call_id": s.params.CallID,
			"error":   err.Error(),
		})
		return fmt.Errorf("call: connect recognizer: %w", err)
	}

	s.mu.Lock()
	s.stream = stream
	s.started = true
	s.mu.Unlock()

	s.record(func(ctx context.Context, r Recorder) error { return r.RecordStart(ctx, s.summary("active")) })
	s.emit(events.CallStarted, map[string]any{
		"call_id":    s.params.CallID,
		"channel_id": s.params.ChannelID,
		"direction":  string(s.params.Direction),
		"number":     s.params.Number,
	})
	s.publish()
	s.logger.Info("call session started", "direction", s.params.Direction)

	go s.listen()
	s.turns.Add(1)
	go func() {
		defer s.turns.Done()
		s.greet()
	}()
	return nil
}

// SendAudio forwards one PCM frame to speech recognition.
func (s *Session) SendAudio(pcm []byte) error {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return speech.ErrStreamClosed
	}
	return stream.SendAudio(pcm)
}

// HandleDTMF records a keypad digit. Digits never change state.
func (s *Session) HandleDTMF(digit string) {
	s.logger.Info("dtmf received", "digit", digit)
}

// Hangup asks the switch to terminate this call's channel.
func (s *Session) Hangup(ctx context.Context) (esl.Result, error) {
	return s.svc.Switch.Hangup(ctx, s.params.ChannelID)
}

// Stop tears the session down and records the outcome. It is safe to call
// more than once and from any goroutine.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if !started {
			s.end()
			return
		}
		s.cancel()
		if err := s.stream.Close(); err != nil {
			s.logger.Debug("closing recognizer stream", "error", err)
		}
		<-s.loopDone
		s.turns.Wait()
		s.end()
		s.finalize()
	})
}

func (s *Session) end() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) listen() {
	defer close(s.loopDone)
	evs := s.stream.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-evs:
			if !ok {
				if err := s.stream.Err(); err != nil {
					s.logger.Error("speech recognition lost", "error", err)
					s.mu.Lock()
					s.failErr = err
					s.mu.Unlock()
				}
				s.end()
				return
			}
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev speech.Event) {
	switch ev.Kind {
	case speech.EventSpeechStarted:
		s.mu.Lock()
		s.userSpeaking = true
		s.mu.Unlock()
	case speech.EventSpeechEnded:
		s.mu.Lock()
		s.userSpeaking = false
		s.mu.Unlock()
	case speech.EventTranscript:
		if !ev.Final {
			s.mu.Lock()
			s.partial = ev.Text
			s.mu.Unlock()
			return
		}
		s.mu.Lock()
		s.partial = ""
		s.mu.Unlock()
		if !s.beginTurn() {
			s.logger.Info("assistant busy, discarding transcript", "state", s.State().String(), "text", ev.Text)
			s.svc.Metrics.IncDroppedTranscript()
			return
		}
		s.turns.Add(1)
		go func() {
			defer s.turns.Done()
			s.processTurn(ev.Text)
		}()
	}
}

// beginTurn moves Idle to Processing and reports whether it did.
func (s *Session) beginTurn() bool {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return false
	}
	s.state = StateProcessing
	s.mu.Unlock()
	s.stateChanged(StateProcessing)
	return true
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	s.stateChanged(st)
}

func (s *Session) stateChanged(st State) {
	s.logger.Debug("conversation state changed", "state", st.String())
	s.publish()
	s.emit(events.CallStateChanged, map[string]any{
		"call_id": s.params.CallID,
		"state":   st.String(),
	})
}

func (s *Session) greet() {
	defer s.setState(StateIdle)
	greeting := firstNonEmpty(s.params.Profile.Greeting, s.svc.Greeting, DefaultGreeting)
	s.appendMessage(llm.Message{Role: llm.RoleAssistant, Content: greeting})
	s.speak(greeting)
}

// processTurn runs the filler and the reply request concurrently and waits
// for both before speaking.
func (s *Session) processTurn(text string) {
	defer s.setState(StateIdle)
	started := time.Now()
	s.logger.Info("processing user turn", "text", text)

	s.appendMessage(llm.Message{Role: llm.RoleUser, Content: text})
	history := s.History()

	var reply string
	var g errgroup.Group
	g.Go(func() error {
		s.playFiller()
		return nil
	})
	g.Go(func() error {
		out, err := s.svc.Replier.Reply(s.ctx, s.systemPrompt(), history)
		if err != nil {
			return err
		}
		reply = out
		return nil
	})
	err := g.Wait()
	if s.ctx.Err() != nil {
		return
	}

	ok := err == nil
	if err != nil {
		s.logger.Warn("reply generation failed", "error", err)
		reply = s.apology()
	} else {
		s.appendMessage(llm.Message{Role: llm.RoleAssistant, Content: reply})
	}

	s.setState(StateSpeaking)
	if !s.speak(reply) {
		ok = false
	}
	s.svc.Metrics.ObserveTurn(time.Since(started).Seconds(), ok)
}

// speak plays text, falling back to the apology once on failure.
func (s *Session) speak(text string) bool {
	err := s.play(text)
	if err == nil {
		return true
	}
	s.logger.Warn("speech playback failed", "error", err)
	if s.ctx.Err() != nil || text == s.apology() {
		return false
	}
	if err := s.play(s.apology()); err != nil {
		s.logger.Warn("apology playback failed", "error", err)
	}
	return false
}

func (s *Session) play(text string) error {
	pcm, err := s.synth.Synthesize(s.ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	clip, err := s.svc.Clips.SaveTemp(pcm)
	if err != nil {
		return fmt.Errorf("save clip: %w", err)
	}
	defer func() {
		if err := s.svc.Clips.Remove(clip); err != nil {
			s.logger.Warn("removing played clip", "path", clip.AppPath, "error", err)
		}
	}()

	res, err := s.svc.Switch.Broadcast(s.ctx, s.params.ChannelID, clip.SwitchPath)
	if !res.OK {
		if err == nil {
			err = errors.New(strings.TrimSpace(res.Raw))
		}
		return fmt.Errorf("broadcast: %w", err)
	}
	return sleepCtx(s.ctx, clip.Duration()+s.svc.PlaybackPad)
}

func (s *Session) playFiller() {
	if s.svc.Fillers == nil {
		return
	}
	clip, ok := s.svc.Fillers.Random()
	if !ok {
		return
	}
	res, err := s.svc.Switch.Broadcast(s.ctx, s.params.ChannelID, clip.SwitchPath)
	if !res.OK {
		s.logger.Debug("filler playback failed", "error", err)
		return
	}
	_ = sleepCtx(s.ctx, s.svc.FillerWait)
}

func (s *Session) appendMessage(msg llm.Message) {
	s.mu.Lock()
	s.history = append(s.history, msg)
	s.mu.Unlock()
	s.record(func(ctx context.Context, r Recorder) error {
		return r.RecordMessage(ctx, s.params.CallID, msg)
	})
	s.publish()
}

func (s *Session) systemPrompt() string {
	return firstNonEmpty(s.params.Profile.SystemPrompt, s.svc.SystemPrompt, DefaultSystemPrompt)
}

func (s *Session) apology() string {
	return firstNonEmpty(s.svc.Apology, DefaultApology)
}

func (s *Session) summary(status string) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		CallID:    s.params.CallID,
		ChannelID: s.params.ChannelID,
		Direction: s.params.Direction,
		Number:    s.params.Number,
		PromptID:  s.params.Profile.PromptID,
		Status:    status,
		StartedAt: s.startedAt,
		History:   append([]llm.Message(nil), s.history...),
	}
}

func (s *Session) finalize() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), finalizeTimeout)
	defer cancel()

	s.mu.Lock()
	failErr := s.failErr
	s.mu.Unlock()

	status := "completed"
	if failErr != nil {
		status = "failed"
	}
	sum := s.summary(status)
	sum.EndedAt = time.Now().UTC()

	if s.svc.Recorder != nil {
		if err := s.svc.Recorder.RecordEnd(ctx, sum); err != nil {
			s.logger.Warn("recording call end", "error", err)
		}
	}
	if s.svc.Archiver != nil {
		if err := s.svc.Archiver.Archive(ctx, sum); err != nil {
			s.logger.Warn("archiving transcript", "error", err)
		}
	}
	if s.svc.Mirror != nil {
		snap := s.Snapshot()
		snap.State = "ended"
		if err := s.svc.Mirror.Publish(ctx, snap); err != nil {
			s.logger.Debug("mirroring final call state", "error", err)
		}
	}

	data := map[string]any{
		"call_id":          sum.CallID,
		"status":           status,
		"duration_seconds": sum.Duration().Seconds(),
		"messages":         len(sum.History),
	}
	if failErr != nil {
		data["error"] = failErr.Error()
		s.emit(events.CallFailed, data)
	} else {
		s.emit(events.CallEnded, data)
	}
	s.logger.Info("call session ended", "status", status, "duration_seconds", sum.Duration().Seconds())
}

func (s *Session) record(fn func(ctx context.Context, r Recorder) error) {
	if s.svc.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), finalizeTimeout)
	defer cancel()
	if err := fn(ctx, s.svc.Recorder); err != nil {
		s.logger.Warn("recording call", "error", err)
	}
}

func (s *Session) publish() {
	if s.svc.Mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := s.svc.Mirror.Publish(ctx, s.Snapshot()); err != nil {
		s.logger.Debug("mirroring call state", "error", err)
	}
}

func (s *Session) emit(name events.Name, data map[string]any) {
	if s.svc.Notifier == nil {
		return
	}
	s.svc.Notifier.Emit(context.WithoutCancel(s.ctx), name, data)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
