package emitter

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/tilefeed/internal/pipeline"
	"github.com/e7canasta/tilefeed/internal/types"
)

type fakePublisher struct {
	frames  []types.FrameEvent
	dialogs []types.DialogEvent
	err     error
	closed  bool
}

func (p *fakePublisher) PublishFrame(ev types.FrameEvent) error {
	p.frames = append(p.frames, ev)
	return p.err
}

func (p *fakePublisher) PublishDialog(ev types.DialogEvent) error {
	p.dialogs = append(p.dialogs, ev)
	return p.err
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func TestCodecByName(t *testing.T) {
	for _, name := range []string{"", "json", "msgpack"} {
		if _, err := CodecByName(name); err != nil {
			t.Errorf("CodecByName(%q) error: %v", name, err)
		}
	}
	if _, err := CodecByName("xml"); err == nil {
		t.Error("CodecByName(xml) accepted")
	}
}

func TestCodecs_EventFieldNames(t *testing.T) {
	ev := types.FrameEvent{Timestamp: "0d0h0m1s", TimestampS: 1, DenseDelta: "0\tA", Seq: 7}

	data, err := JSON.Marshal(ev)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if !strings.Contains(string(data), `"dithered_delta":"0\tA"`) {
		t.Errorf("json payload = %s", data)
	}

	data, err = Msgpack.Marshal(types.DialogEvent{Time: "t", Text: "HI", Lines: []string{"HI"}})
	if err != nil {
		t.Fatalf("msgpack: %v", err)
	}
	var back map[string]any
	if err := msgpack.Unmarshal(data, &back); err != nil {
		t.Fatalf("msgpack unmarshal: %v", err)
	}
	if back["text"] != "HI" || back["time"] != "t" {
		t.Errorf("msgpack payload = %v", back)
	}
}

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	ok := &fakePublisher{}
	bad := &fakePublisher{err: errors.New("broker down")}
	m := Multi{bad, ok}

	err := m.PublishDialog(types.DialogEvent{Text: "HI"})
	if err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Errorf("PublishDialog() error = %v", err)
	}
	if len(ok.dialogs) != 1 {
		t.Error("healthy publisher skipped after a failure")
	}
	if err := m.Close(); err != nil || !ok.closed || !bad.closed {
		t.Errorf("Close() = %v", err)
	}
}

func TestFrameEvents_OnlyNonEmptyDelta(t *testing.T) {
	pub := &fakePublisher{}
	h := NewFrameEvents(pub)

	for i, d := range []string{"", "0\tAB", ""} {
		fc := pipeline.NewFrameContext(&types.Frame{Seq: uint64(i + 1), TraceID: "trace"})
		fc.TextDelta = d
		fc.Elapsed = types.Elapsed{Minutes: 2, Seconds: 3}
		if outcome, err := h.Handle(fc); err != nil || outcome != pipeline.Continue {
			t.Fatalf("Handle() = %v, %v", outcome, err)
		}
	}

	if len(pub.frames) != 1 {
		t.Fatalf("published %d frames, want 1", len(pub.frames))
	}
	ev := pub.frames[0]
	if ev.Seq != 2 || ev.DenseDelta != "0\tAB" || ev.Timestamp != "0d0h2m3s" || ev.TimestampS != 123 {
		t.Errorf("event = %+v", ev)
	}
}

func TestFrameEvents_PublishFailureIsNotFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	h := NewFrameEvents(pub)

	fc := pipeline.NewFrameContext(&types.Frame{})
	fc.TextDelta = "0\tX"
	outcome, err := h.Handle(fc)
	if err != nil || outcome != pipeline.Continue {
		t.Fatalf("Handle() = %v, %v", outcome, err)
	}
	if h.Errors() != 1 {
		t.Errorf("Errors() = %d", h.Errors())
	}
}

func TestDialogEvents(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDialogEvents(pub)
	d.HandleUtterance(types.Utterance{Time: "0d0h0m1s", Text: "A B", Lines: []string{"A", "B"}}, nil)

	if len(pub.dialogs) != 1 || pub.dialogs[0].Text != "A B" || len(pub.dialogs[0].Lines) != 2 {
		t.Errorf("dialogs = %+v", pub.dialogs)
	}
}

func TestScreenFeed_EncodeDecode(t *testing.T) {
	f := NewScreenFeed(nil, 4, 3)

	screens := [][]byte{
		bytes.Repeat([]byte{0x00}, 64),
		append(bytes.Repeat([]byte{0x00}, 60), 1, 2, 3, 4),
		append(bytes.Repeat([]byte{0x00}, 60), 1, 9, 3, 4),
		bytes.Repeat([]byte{0xFF}, 64),
		bytes.Repeat([]byte{0xFE}, 64),
	}
	wantKinds := []byte{FeedKeyframe, FeedDelta, FeedDelta, FeedDelta, FeedKeyframe}

	var view []byte
	for i, s := range screens {
		msg, err := f.Encode(s, 1)
		if err != nil {
			t.Fatalf("Encode(%d) error: %v", i, err)
		}
		if msg[0] != wantKinds[i] {
			t.Errorf("message %d kind = %c, want %c", i, msg[0], wantKinds[i])
		}
		view, err = DecodeFeed(view, msg)
		if err != nil {
			t.Fatalf("DecodeFeed(%d) error: %v", i, err)
		}
		if !bytes.Equal(view, s) {
			t.Fatalf("screen %d decoded wrong", i)
		}
	}

	if msg, _ := f.Encode(screens[4], 2); msg[0] != FeedKeyframe {
		t.Error("new client did not force a keyframe")
	}
	if _, err := DecodeFeed(nil, []byte{'?'}); err == nil {
		t.Error("DecodeFeed accepted an unknown kind")
	}
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastsToClients(t *testing.T) {
	hub := NewHub(HubConfig{})
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return hub.Clients() == 1 })

	if err := hub.PublishDialog(types.DialogEvent{Time: "0d0h0m1s", Text: "HELLO"}); err != nil {
		t.Fatalf("PublishDialog() error: %v", err)
	}
	hub.BroadcastBinary([]byte{FeedKeyframe, 1, 2})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Errorf("kind = %d, want text", kind)
	}
	var env struct {
		Type string            `json:"type"`
		Data types.DialogEvent `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Type != "dialog" || env.Data.Text != "HELLO" {
		t.Errorf("message = %s (%v)", data, err)
	}

	kind, data, err = conn.ReadMessage()
	if err != nil || kind != websocket.BinaryMessage || !bytes.Equal(data, []byte{FeedKeyframe, 1, 2}) {
		t.Errorf("binary message = %d %v %v", kind, data, err)
	}

	conn.Close()
	waitFor(t, func() bool { return hub.Clients() == 0 })
	if hub.Joins() != 1 {
		t.Errorf("Joins() = %d", hub.Joins())
	}
}

func TestScreenFeed_SkipsWithoutClients(t *testing.T) {
	hub := NewHub(HubConfig{})
	f := NewScreenFeed(hub, 4, 10)

	fc := pipeline.NewFrameContext(&types.Frame{})
	fc.Packed = []byte{1, 2, 3}
	if outcome, err := f.Handle(fc); err != nil || outcome != pipeline.Continue {
		t.Fatalf("Handle() = %v, %v", outcome, err)
	}
	if f.prev != nil {
		t.Error("feed kept state without clients")
	}
}

type fakeToken struct {
	mqtt.Token
	err error
}

func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }

type fakeClient struct {
	mqtt.Client
	topics   []string
	payloads [][]byte
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload.([]byte))
	return fakeToken{}
}

func (c *fakeClient) IsConnected() bool { return true }
func (c *fakeClient) Disconnect(uint)  {}

func TestMQTTEmitter_PublishTopicsAndStats(t *testing.T) {
	e := NewMQTTEmitter(MQTTConfig{Broker: "localhost:1883"}, Msgpack)

	if err := e.PublishFrame(types.FrameEvent{}); err == nil {
		t.Fatal("publish before connect succeeded")
	}

	client := &fakeClient{}
	e.Client = client
	e.setConnected(true)

	if err := e.PublishFrame(types.FrameEvent{Seq: 1, DenseDelta: "0\tA"}); err != nil {
		t.Fatalf("PublishFrame() error: %v", err)
	}
	if err := e.PublishDialog(types.DialogEvent{Text: "HI"}); err != nil {
		t.Fatalf("PublishDialog() error: %v", err)
	}

	if len(client.topics) != 2 || client.topics[0] != DefaultFramesTopic || client.topics[1] != DefaultDialogTopic {
		t.Errorf("topics = %v", client.topics)
	}
	var ev types.DialogEvent
	if err := msgpack.Unmarshal(client.payloads[1], &ev); err != nil || ev.Text != "HI" {
		t.Errorf("dialog payload = %+v (%v)", ev, err)
	}

	stats := e.Stats()
	if !stats.Connected || stats.Errors != 1 || stats.Published[DefaultFramesTopic] != 1 {
		t.Errorf("Stats() = %+v", stats)
	}

	if err := e.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		broker string
		want   string
	}{
		{"localhost:1883", "tcp://localhost:1883"},
		{"tcp://localhost:1883", "tcp://localhost:1883"},
		{"ssl://broker:8883", "ssl://broker:8883"},
		{"ws://broker:9001/mqtt", "ws://broker:9001/mqtt"},
	}
	for _, tt := range tests {
		t.Run(tt.broker, func(t *testing.T) {
			if got := brokerURL(tt.broker); got != tt.want {
				t.Errorf("brokerURL(%q) = %q, want %q", tt.broker, got, tt.want)
			}
		})
	}
}
