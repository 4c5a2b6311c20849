package core

import "sync"

type EventContext struct {
	Data struct {
		I64 [2]int64
		U64 [2]uint64
		F64 [2]float64

		I32 [4]int32
		U32 [4]uint32
		F32 [4]float32

		C [4]string
	}
}

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// An animation finished streaming and its controllers are published.
	/* Context usage:
	 * u32 path_crc = data.U32[0];
	 * u32 global_id = data.U32[1];
	 * u32 controllers = data.U32[2];
	 * string path = data.C[0];
	 */
	EVENT_CODE_ANIMATION_LOADED SystemEventCode = 0x02

	// An animation failed to load and was marked as not found.
	/* Context usage:
	 * u32 path_crc = data.U32[0];
	 * string path = data.C[0];
	 * string reason = data.C[1];
	 */
	EVENT_CODE_ANIMATION_LOAD_FAILED SystemEventCode = 0x03

	// An animation released its controllers.
	/* Context usage:
	 * u32 path_crc = data.U32[0];
	 * string path = data.C[0];
	 */
	EVENT_CODE_ANIMATION_UNLOADED SystemEventCode = 0x04

	// A file in the watched animation directory changed on disk.
	/* Context usage:
	 * string path = data.C[0];
	 */
	EVENT_CODE_ANIMATION_FILE_CHANGED SystemEventCode = 0x05

	// The controller heap moved blocks during a compaction step.
	/* Context usage:
	 * u64 moved_bytes = data.U64[0];
	 * u32 moved_blocks = data.U32[0];
	 */
	EVENT_CODE_HEAP_DEFRAGMENTED SystemEventCode = 0x06

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

// This should be more than enough codes...
const MAX_MESSAGE_CODES = 16384

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

type eventCodeEntry struct {
	events []*registeredEvent
}

// State structure.
type eventSystemState struct {
	mu sync.RWMutex
	// Lookup table for event codes.
	registered [MAX_MESSAGE_CODES]eventCodeEntry
}

/**
 * Event system internal state.
 */
var eventMutex sync.Mutex
var eventState *eventSystemState = nil

// Should return true if handled.
type FnOnEvent func(code SystemEventCode, sender interface{}, listener_inst interface{}, data EventContext) bool

func EventInitialize() bool {
	eventMutex.Lock()
	defer eventMutex.Unlock()
	if eventState != nil {
		return false
	}
	eventState = &eventSystemState{}
	return true
}

func EventShutdown() error {
	eventMutex.Lock()
	defer eventMutex.Unlock()
	eventState = nil
	return nil
}

func currentEventState() *eventSystemState {
	eventMutex.Lock()
	defer eventMutex.Unlock()
	return eventState
}

/**
 * Register to listen for when events are sent with the provided code. Events with duplicate
 * listeners will not be registered again and will cause this to return FALSE.
 * @param code The event code to listen for.
 * @param listener A pointer to a listener instance. Can be nil.
 * @param on_event The callback function to be invoked when the event code is fired.
 * @returns TRUE if the event is successfully registered; otherwise false.
 */
func EventRegister(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	state := currentEventState()
	if state == nil || onEvent == nil {
		return false
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	for _, e := range state.registered[code].events {
		if e.listener == listener {
			LogWarn("event code %d already has this listener registered", code)
			return false
		}
	}
	state.registered[code].events = append(state.registered[code].events, &registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

/**
 * Unregister from listening for when events are sent with the provided code. If no matching
 * registration is found, this function returns FALSE.
 * @param code The event code to stop listening for.
 * @param listener A pointer to a listener instance. Can be nil.
 * @returns TRUE if the event is successfully unregistered; otherwise false.
 */
func EventUnregister(code SystemEventCode, listener interface{}) bool {
	state := currentEventState()
	if state == nil {
		return false
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	events := state.registered[code].events
	for i, e := range events {
		if e.listener == listener {
			state.registered[code].events = append(events[:i], events[i+1:]...)
			return true
		}
	}
	// Not found.
	return false
}

/**
 * Fires an event to listeners of the given code. If an event handler returns
 * TRUE, the event is considered handled and is not passed on to any more listeners.
 * @param code The event code to fire.
 * @param sender A pointer to the sender. Can be nil.
 * @param data The event data.
 * @returns TRUE if handled, otherwise FALSE.
 */
func EventFire(code SystemEventCode, sender interface{}, context EventContext) bool {
	state := currentEventState()
	if state == nil {
		return false
	}
	state.mu.RLock()
	events := make([]*registeredEvent, len(state.registered[code].events))
	copy(events, state.registered[code].events)
	state.mu.RUnlock()

	for _, e := range events {
		if e.callback(code, sender, e.listener, context) {
			// Message has been handled, do not send to other listeners.
			return true
		}
	}
	return false
}
