// Package realtime implements the AI Session (spec component 4.C): a
// websocket client to a realtime speech-to-speech model endpoint, with
// session configuration, response lifecycle tracking, function-call
// dispatch, and live model hot-swap. Grounded on the teacher's
// transport/provider.go Connection (read/write-loop goroutines over
// gorilla/websocket) generalized past its Twilio-specific media framing,
// and on core/app/ai/voice_client.py for the event protocol and the
// exact response_in_progress state machine.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/agentplexus/voiceagent"
	"github.com/agentplexus/voiceagent/internal/errs"
)

// ToolSpec describes one function tool advertised to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON schema
}

// Config configures a Session.
type Config struct {
	Endpoint    string // e.g. wss://api.example.com/v1/realtime
	APIKey      string
	Model       string
	Voice       string
	Instructions string
	Tools       []ToolSpec
	Logger      *logrus.Logger
}

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	EventAudioDelta EventKind = iota
	EventTranscriptDelta
	EventSpeechStarted
	EventResponseDone
	EventFunctionCall
	EventError
)

// Event is the single downlink type Session emits; only the fields
// relevant to Kind are populated.
type Event struct {
	Kind EventKind

	Audio voiceagent.Frame // EventAudioDelta

	Role string // EventTranscriptDelta
	Text string // EventTranscriptDelta

	CallID    string // EventFunctionCall
	ToolName  string // EventFunctionCall
	Arguments string // EventFunctionCall

	Err error // EventError
}

// Session is a live connection to the realtime AI endpoint for one call.
// The underlying websocket connection is replaced wholesale on a model
// hot-swap (see SwitchModel); events, usage counters, and the session
// configuration survive across that replacement.
type Session struct {
	cfg Config
	log *logrus.Logger

	events    chan Event
	closed    chan struct{} // closed once, by Close, marking the session dead for good
	closeOnce sync.Once
	wg        sync.WaitGroup // tracks the currently running readLoop goroutine

	mu                 sync.Mutex
	conn               *websocket.Conn
	genDone            chan struct{} // closed to stop the readLoop reading conn
	responseInProgress bool
	currentModel       string
	instructions       string
	voice              string
	tools              []ToolSpec

	inputTokens, outputTokens int64
}

// Connect dials the realtime endpoint, sends the session.update
// configuration message, and starts the read loop.
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	conn, err := dial(ctx, cfg.Endpoint, cfg.APIKey, cfg.Model)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:          cfg,
		log:          cfg.Logger,
		conn:         conn,
		events:       make(chan Event, 64), // spec §5: Event queue is unbounded in principle, buffered generously here
		closed:       make(chan struct{}),
		currentModel: cfg.Model,
		instructions: cfg.Instructions,
		voice:        cfg.Voice,
		tools:        cfg.Tools,
	}

	if err := s.configureSession(cfg.Instructions, cfg.Voice, cfg.Tools); err != nil {
		_ = conn.Close()
		return nil, err
	}

	s.startReadLoop(conn)
	return s, nil
}

// dial opens one websocket connection against the model-specific realtime
// endpoint, model passed as a query parameter per spec §6.
func dial(ctx context.Context, endpoint, apiKey, model string) (*websocket.Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errs.New(errs.KindInternalInvariant, "realtime.dial", err)
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, errs.New(errs.KindNetworkTransient, "realtime.dial", err)
	}
	return conn, nil
}

// startReadLoop launches the read loop for conn as a new generation,
// replacing whatever generation (if any) preceded it.
func (s *Session) startReadLoop(conn *websocket.Conn) {
	gen := make(chan struct{})
	s.mu.Lock()
	s.genDone = gen
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop(conn, gen)
}

// Events returns the channel of downlink events.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Model returns the currently active model name.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentModel
}

// Usage returns the cumulative input/output token counts observed so far.
func (s *Session) Usage() (input, output int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputTokens, s.outputTokens
}

// configureSession sends the initial session.update message describing
// modalities, voice, audio formats, turn detection and tools, and
// remembers the triple so a later model hot-swap can re-apply it on the
// new connection.
func (s *Session) configureSession(instructions, voice string, tools []ToolSpec) error {
	s.mu.Lock()
	s.instructions = instructions
	s.voice = voice
	s.tools = tools
	s.mu.Unlock()

	toolDefs := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		toolDefs = append(toolDefs, map[string]any{
			"type":        "function",
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.Parameters,
		})
	}

	msg := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"instructions":        instructions,
			"voice":               voice,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"turn_detection": map[string]any{
				"type": "server_vad",
			},
			"tools": toolDefs,
		},
	}
	return s.send(msg)
}

// Reconfigure re-sends the session.update message with a new
// instructions/tools pair, without changing the model. Used after an
// agent switch to apply the newly active agent's prompt and tool set.
func (s *Session) Reconfigure(instructions string, tools []ToolSpec) error {
	return s.configureSession(instructions, s.cfg.Voice, tools)
}

// SwitchModel hot-swaps the active model for subsequent responses. The
// realtime endpoint is model-specific (spec §6), so a live swap cannot be
// done with a session.update alone: this closes the current websocket,
// dials the new model's endpoint, and re-sends the session configuration
// (instructions, voice, tools) that was in effect before the swap.
func (s *Session) SwitchModel(ctx context.Context, model string) error {
	s.mu.Lock()
	oldConn := s.conn
	oldGen := s.genDone
	instructions := s.instructions
	voice := s.voice
	tools := s.tools
	s.mu.Unlock()

	if oldGen != nil {
		close(oldGen)
	}
	if oldConn != nil {
		_ = oldConn.Close()
	}
	s.wg.Wait() // old readLoop fully stopped before conn is replaced

	newConn, err := dial(ctx, s.cfg.Endpoint, s.cfg.APIKey, model)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = newConn
	s.currentModel = model
	s.responseInProgress = false
	s.mu.Unlock()

	if err := s.configureSession(instructions, voice, tools); err != nil {
		_ = newConn.Close()
		return err
	}

	s.startReadLoop(newConn)
	return nil
}

// Greet forces an immediate spoken response overriding the session's
// normal instructions for this one turn. Used right after an agent
// switch: server VAD alone will not produce a response with no caller
// speech to react to, so the greeting has to be requested explicitly.
func (s *Session) Greet(text string) error {
	return s.send(map[string]any{
		"type": "response.create",
		"response": map[string]any{
			"instructions": text,
		},
	})
}

// SendAudio appends one frame of caller audio to the input buffer.
func (s *Session) SendAudio(frame voiceagent.Frame) error {
	payload := int16ToPCMBytes(frame.Samples)
	return s.send(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(payload),
	})
}

// SendFunctionResult reports a tool's return value back to the model and
// requests a follow-up response. It waits up to 5s for any in-flight
// response to clear before issuing response.create, matching the
// grounded reference's bounded 50 x 100ms retry loop.
func (s *Session) SendFunctionResult(callID, output string) error {
	if err := s.send(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	}); err != nil {
		return err
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		inProgress := s.responseInProgress
		s.mu.Unlock()
		if !inProgress {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	err := s.send(map[string]any{"type": "response.create"})
	if err != nil && isActiveResponseError(err) {
		// The model reports an active response even though our local state
		// thought it had cleared; back off briefly and retry once.
		time.Sleep(250 * time.Millisecond)
		return s.send(map[string]any{"type": "response.create"})
	}
	return err
}

func isActiveResponseError(err error) bool {
	return err != nil && errs.Is(err, errs.KindProtocolViolation)
}

// Close terminates the session for good: the current connection's read
// loop is stopped and joined before the events channel is closed, so
// nothing can ever send on events after it is closed.
func (s *Session) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)

		s.mu.Lock()
		gen := s.genDone
		conn := s.conn
		s.responseInProgress = false
		s.mu.Unlock()

		if gen != nil {
			close(gen)
		}
		if conn != nil {
			closeErr = conn.Close()
		}
		s.wg.Wait()
		close(s.events)
	})
	return closeErr
}

func (s *Session) send(msg map[string]any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return errs.New(errs.KindInternalInvariant, "realtime.send", err)
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return errs.New(errs.KindNetworkTransient, "realtime.send", err)
	}
	return nil
}

// readLoop consumes downlink protocol events off conn and republishes
// them as the package's Event variant, tracking the response_in_progress
// flag exactly as the grounded reference does. gen is closed exactly when
// this generation's connection is being retired on purpose (a hot-swap or
// Close), which distinguishes an expected read error from a real one.
func (s *Session) readLoop(conn *websocket.Conn, gen chan struct{}) {
	defer s.wg.Done()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-gen:
				// conn was closed on purpose by SwitchModel or Close.
			default:
				s.emit(Event{Kind: EventError, Err: errs.New(errs.KindNetworkTransient, "realtime.readLoop", err)})
			}
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}

		switch envelope.Type {
		case "response.created":
			s.mu.Lock()
			s.responseInProgress = true
			s.mu.Unlock()

		case "response.done":
			s.mu.Lock()
			s.responseInProgress = false
			s.mu.Unlock()
			s.trackUsage(raw)
			s.emit(Event{Kind: EventResponseDone})

		case "input_audio_buffer.speech_started":
			s.mu.Lock()
			s.responseInProgress = false
			s.mu.Unlock()
			s.emit(Event{Kind: EventSpeechStarted})

		case "response.audio.delta":
			var body struct {
				Delta string `json:"delta"`
			}
			if err := json.Unmarshal(raw, &body); err != nil {
				continue
			}
			decoded, err := base64.StdEncoding.DecodeString(body.Delta)
			if err != nil {
				continue
			}
			s.emit(Event{Kind: EventAudioDelta, Audio: voiceagent.Frame{
				Samples: pcmBytesToInt16(decoded),
				Rate:    voiceagent.RateOut,
			}})

		case "response.audio_transcript.delta":
			var body struct {
				Delta string `json:"delta"`
			}
			if err := json.Unmarshal(raw, &body); err == nil {
				s.emit(Event{Kind: EventTranscriptDelta, Role: "assistant", Text: body.Delta})
			}

		case "conversation.item.input_audio_transcription.completed":
			var body struct {
				Transcript string `json:"transcript"`
			}
			if err := json.Unmarshal(raw, &body); err == nil {
				s.emit(Event{Kind: EventTranscriptDelta, Role: "user", Text: body.Transcript})
			}

		case "response.function_call_arguments.done":
			var body struct {
				CallID    string `json:"call_id"`
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			}
			if err := json.Unmarshal(raw, &body); err == nil {
				s.emit(Event{Kind: EventFunctionCall, CallID: body.CallID, ToolName: body.Name, Arguments: body.Arguments})
			}

		case "error":
			var body struct {
				Error struct {
					Message string `json:"message"`
					Code    string `json:"code"`
				} `json:"error"`
			}
			_ = json.Unmarshal(raw, &body)
			kind := errs.KindProtocolViolation
			if body.Error.Code == "rate_limit_exceeded" {
				kind = errs.KindOverload
			}
			s.emit(Event{Kind: EventError, Err: errs.New(kind, "realtime.readLoop", fmt.Errorf("%s", body.Error.Message))})
		}
	}
}

func (s *Session) trackUsage(raw []byte) {
	var body struct {
		Response struct {
			Usage struct {
				InputTokens  int64 `json:"input_tokens"`
				OutputTokens int64 `json:"output_tokens"`
			} `json:"usage"`
		} `json:"response"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return
	}
	s.mu.Lock()
	s.inputTokens += body.Response.Usage.InputTokens
	s.outputTokens += body.Response.Usage.OutputTokens
	s.mu.Unlock()
}

func (s *Session) emit(evt Event) {
	select {
	case s.events <- evt:
	case <-s.closed:
	}
}

func int16ToPCMBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

func pcmBytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	return out
}
