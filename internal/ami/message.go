package ami

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// The manager protocol frames every message as CRLF-terminated "Key: Value"
// lines ended by one blank line. Actions carry an "Action" key, responses a
// "Response" key echoing the request's ActionID, asynchronous events an
// "Event" key.

// Action is an outbound request to the telephony manager.
type Action struct {
	Name   string
	Fields map[string]string
}

// Response is the correlated reply to a single action.
type Response struct {
	Success bool
	Message string
	Fields  map[string]string
}

// Get returns a response field value.
func (r Response) Get(key string) string {
	return r.Fields[key]
}

// Event is an asynchronous notification from the manager.
type Event struct {
	Name   string
	Fields map[string]string
}

// Get returns an event field value.
func (e Event) Get(key string) string {
	return e.Fields[key]
}

// Channel returns the channel the event refers to.
func (e Event) Channel() string {
	return e.Fields["Channel"]
}

// CallID returns the call correlation variable attached at origination, or
// empty when the event belongs to a channel this service did not originate.
func (e Event) CallID() string {
	return e.Fields["Variable_CALL_ID"]
}

// Digit returns the DTMF digit for DTMFReceived events.
func (e Event) Digit() string {
	return e.Fields["Digit"]
}

// Cause returns the hangup cause code for Hangup events, 0 when absent.
func (e Event) Cause() int {
	n, _ := strconv.Atoi(e.Fields["Cause"])
	return n
}

// Event names handled by this service.
const (
	EventChannelCreated   = "Newchannel"
	EventChannelAnswered  = "ChannelAnswered"
	EventDTMFReceived     = "DTMFReceived"
	EventPlaybackFinished = "PlaybackFinished"
	EventHangup           = "Hangup"
)

func writeFrame(w *bufio.Writer, action Action, actionID string) error {
	if _, err := fmt.Fprintf(w, "Action: %s\r\n", action.Name); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "ActionID: %s\r\n", actionID); err != nil {
		return err
	}

	// Deterministic field order keeps frames reproducible in tests.
	keys := make([]string, 0, len(action.Fields))
	for k := range action.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", k, action.Fields[k]); err != nil {
			return err
		}
	}

	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

// readFrame reads one key/value block. It returns an empty map at a bare
// blank line so callers can skip keep-alives.
func readFrame(r *bufio.Reader) (map[string]string, error) {
	fields := make(map[string]string)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return fields, nil
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
}

// Originate builds the request starting an outbound call leg. Call context
// is propagated through channel variables so every later event can be
// correlated back to the owning call.
func Originate(channel, dialContext, callerID string, variables map[string]string, timeoutMs int64) Action {
	pairs := make([]string, 0, len(variables))
	keys := make([]string, 0, len(variables))
	for k := range variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, variables[k]))
	}

	return Action{
		Name: "Originate",
		Fields: map[string]string{
			"Channel":  channel,
			"Context":  dialContext,
			"Exten":    "s",
			"Priority": "1",
			"CallerID": callerID,
			"Variable": strings.Join(pairs, ","),
			"Timeout":  strconv.FormatInt(timeoutMs, 10),
			"Async":    "true",
		},
	}
}

// Playback builds the request playing an audio prompt on a channel.
func Playback(channel, file string) Action {
	return Action{
		Name: "Playback",
		Fields: map[string]string{
			"Channel":  channel,
			"Filename": file,
		},
	}
}

// Redirect builds the request moving a channel to another dialplan context.
func Redirect(channel, dialContext string) Action {
	return Action{
		Name: "Redirect",
		Fields: map[string]string{
			"Channel":  channel,
			"Context":  dialContext,
			"Exten":    "s",
			"Priority": "1",
		},
	}
}

// Hangup builds the request terminating a channel.
func Hangup(channel string) Action {
	return Action{
		Name:   "Hangup",
		Fields: map[string]string{"Channel": channel},
	}
}
