package wasmhost

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/grayareahq/wasmpipe/pipeline"
)

// guestExportStart, guestExportOnMessage, guestExportBufferPointer name
// the three exports spec.md §4.5 requires of every pipeline guest.
const (
	guestExportStart         = "_start"
	guestExportOnMessage     = "on_message"
	guestExportBufferPointer = "buffer_pointer"

	hostImportModule        = "io"
	hostImportSendTopic     = "send_message_to_topic_idx"
	hostImportSendWebsocket = "send_websocket_message"
)

// TopicSink receives a message the guest emitted via
// send_message_to_topic_idx, already resolved to its topic name.
type TopicSink func(topic string, data []byte) error

// WebsocketSink receives a message the guest emitted via
// send_websocket_message.
type WebsocketSink func(data []byte) error

// Adapter wires a compiled guest module to the pipeline ABI: it links
// the io.* host imports, validates the guest's exports once at
// Instantiate time, and drives on_message for every inbound Message.
//
// A Sink returning an error is fatal and tears down the stage — unlike
// the source runtime's guest ABI, which aborted the whole process on a
// handler error. The host function panics with the error, wazero turns
// that panic into an error returned from the guest call in progress, and
// that error propagates through the stage's errgroup.
type Adapter struct {
	core *Core

	outputTopics []string
	onTopic      TopicSink
	onWebsocket  WebsocketSink
}

// NewAdapter creates an Adapter over core. outputTopics is the ordered
// list of topics the guest may address by index when it calls
// send_message_to_topic_idx; it may be empty for guests with no output.
func NewAdapter(core *Core, outputTopics []string) *Adapter {
	return &Adapter{core: core, outputTopics: outputTopics}
}

// LinkImports registers the io.send_message_to_topic_idx and
// io.send_websocket_message host imports. Either sink may be nil if the
// stage's kind does not use it — a guest that calls the corresponding
// import anyway makes the host function panic with an error naming the
// missing sink, which wazero returns as an error from the guest call in
// progress, ending the stage through its errgroup.
func (a *Adapter) LinkImports(onTopic TopicSink, onWebsocket WebsocketSink) error {
	a.onTopic = onTopic
	a.onWebsocket = onWebsocket

	if err := a.core.ImportFunction(hostImportModule, hostImportSendTopic, a.hostSendTopicMessage); err != nil &&
		err != ErrModuleNotImported && err != ErrFuncNotImported {
		return err
	}
	if err := a.core.ImportFunction(hostImportModule, hostImportSendWebsocket, a.hostSendWebsocketMessage); err != nil &&
		err != ErrModuleNotImported && err != ErrFuncNotImported {
		return err
	}
	return nil
}

// hostSendTopicMessage backs io.send_message_to_topic_idx(topic_idx, ptr, len).
// It copies the guest's buffer out before calling back into onTopic,
// and never retains the guest pointer past this call, since the guest
// is free to reuse or move its buffer on its next turn.
//
// wazero populates ctx and mod for any host function whose first two
// parameters are context.Context and api.Module.
func (a *Adapter) hostSendTopicMessage(ctx context.Context, mod api.Module, topicIdx int32, ptr, length uint32) {
	if topicIdx < 0 || int(topicIdx) >= len(a.outputTopics) {
		panic(fmt.Errorf("wasmhost: %w: topic_idx %d out of range [0,%d)", pipeline.ErrOobWrite, topicIdx, len(a.outputTopics)))
	}

	data, ok := readGuestMemory(mod, ptr, length)
	if !ok {
		panic(fmt.Errorf("wasmhost: %w: send_message_to_topic_idx ptr=%d len=%d", pipeline.ErrOobWrite, ptr, length))
	}

	if a.onTopic == nil {
		panic(fmt.Errorf("wasmhost: guest called send_message_to_topic_idx but no output sink is configured"))
	}

	if err := a.onTopic(a.outputTopics[topicIdx], data); err != nil {
		panic(fmt.Errorf("wasmhost: delivering topic message: %w", err))
	}
}

// hostSendWebsocketMessage backs io.send_websocket_message(ptr, len).
func (a *Adapter) hostSendWebsocketMessage(ctx context.Context, mod api.Module, ptr, length uint32) {
	data, ok := readGuestMemory(mod, ptr, length)
	if !ok {
		panic(fmt.Errorf("wasmhost: %w: send_websocket_message ptr=%d len=%d", pipeline.ErrOobWrite, ptr, length))
	}

	if a.onWebsocket == nil {
		panic(fmt.Errorf("wasmhost: guest called send_websocket_message but no websocket sink is configured"))
	}

	if err := a.onWebsocket(data); err != nil {
		panic(fmt.Errorf("wasmhost: delivering websocket message: %w", err))
	}
}

// Initialize validates that the guest exports _start, on_message, and
// buffer_pointer with the signatures spec.md §4.5 requires, then calls
// _start. Call it once, immediately after (*Core).Instantiate.
func (a *Adapter) Initialize(ctx context.Context) error {
	start := a.core.ExportedFunction(guestExportStart)
	if start == nil {
		return fmt.Errorf("wasmhost: guest does not export %s", guestExportStart)
	}

	if err := checkSignature(guestExportOnMessage, a.core.ExportedFunction(guestExportOnMessage), 2, 0); err != nil {
		return err
	}
	if err := checkSignature(guestExportBufferPointer, a.core.ExportedFunction(guestExportBufferPointer), 0, 1); err != nil {
		return err
	}

	if _, err := start.Call(ctx); err != nil {
		return fmt.Errorf("wasmhost: calling %s: %w", guestExportStart, err)
	}
	return nil
}

func checkSignature(name string, fn api.Function, wantParams, wantResults int) error {
	if fn == nil {
		return fmt.Errorf("wasmhost: guest does not export %s", name)
	}
	def := fn.Definition()
	if len(def.ParamTypes()) != wantParams {
		return fmt.Errorf("wasmhost: %s expects %d argument(s), got %d", name, wantParams, len(def.ParamTypes()))
	}
	if len(def.ResultTypes()) != wantResults {
		return fmt.Errorf("wasmhost: %s expects %d result(s), got %d", name, wantResults, len(def.ResultTypes()))
	}
	for _, t := range def.ParamTypes() {
		if t != api.ValueTypeI32 {
			return fmt.Errorf("wasmhost: %s has a non-i32 parameter", name)
		}
	}
	for _, t := range def.ResultTypes() {
		if t != api.ValueTypeI32 {
			return fmt.Errorf("wasmhost: %s has a non-i32 result", name)
		}
	}
	return nil
}

// Deliver writes data into the guest's buffer (fetched fresh via
// buffer_pointer, never cached across calls) and invokes on_message. A
// payload larger than pipeline.MaxMessageBytes is rejected before any
// guest call happens.
func (a *Adapter) Deliver(data []byte) error {
	if len(data) > pipeline.MaxMessageBytes {
		return pipeline.ErrOversizeMessage
	}

	ptrResult, err := a.core.Invoke(guestExportBufferPointer)
	if err != nil {
		return fmt.Errorf("wasmhost: invoking %s: %w", guestExportBufferPointer, err)
	}
	ptr := uint32(ptrResult[0])

	mem := a.core.Memory()
	if mem == nil {
		return fmt.Errorf("wasmhost: guest memory unavailable")
	}
	if !mem.Write(ptr, data) {
		return fmt.Errorf("wasmhost: %w: writing %d bytes at %d", pipeline.ErrOobWrite, len(data), ptr)
	}

	if _, err := a.core.Invoke(guestExportOnMessage, uint64(ptr), uint64(len(data))); err != nil {
		return fmt.Errorf("wasmhost: invoking %s: %w", guestExportOnMessage, err)
	}
	return nil
}

func readGuestMemory(mod api.Module, ptr, length uint32) ([]byte, bool) {
	buf, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, true
}
