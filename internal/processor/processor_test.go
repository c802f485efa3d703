package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"safewatch/internal/config"
	"safewatch/internal/escalation"
	"safewatch/internal/notify"
	"safewatch/internal/rules"
)

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (b *recordingBroadcaster) Send(ctx context.Context, msg notify.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, msg)
	return nil
}

func (b *recordingBroadcaster) Sent() []notify.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]notify.Message(nil), b.sent...)
}

type recordingSMS struct {
	mu   sync.Mutex
	sent []escalation.SMS
}

func (s *recordingSMS) SendSMS(ctx context.Context, msg escalation.SMS) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSMS) Sent() []escalation.SMS {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]escalation.SMS(nil), s.sent...)
}

func testConfig(backend string) *config.Config {
	cfg := config.Default()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Broadcast.Backend = backend
	cfg.Workers.Count = 2
	cfg.Workers.QueueSize = 16
	cfg.Escalation.Timeout = time.Second
	return cfg
}

// start runs p until the returned stop function is called
func start(t *testing.T, p *Processor) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	select {
	case <-p.Ready():
	case err := <-errCh:
		cancel()
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("processor did not become ready")
	}

	return func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(30 * time.Second):
			t.Fatal("processor did not stop")
			return nil
		}
	}
}

func postRecord(t *testing.T, addr, body string) {
	t.Helper()
	resp, err := http.Post("http://"+addr+"/records", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
}

func fetchStats(t *testing.T, addr string) Stats {
	t.Helper()
	resp, err := http.Get("http://" + addr + "/stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	defer resp.Body.Close()
	var s Stats
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	return s
}

func TestProcessor_EndToEnd(t *testing.T) {
	cfg := testConfig(config.BroadcastLog)
	cfg.Escalation.SMS = config.SMSConfig{To: "+15550001", From: "+15550002"}

	b := &recordingBroadcaster{}
	sms := &recordingSMS{}
	p := New(cfg,
		WithBroadcaster(b),
		WithEscalationOptions(escalation.WithSMSSender(sms)),
	)
	stop := start(t, p)
	addr := p.Addr()

	postRecord(t, addr, `{"id":"doc-1","fields":{"type":"fridge","temp":7.5}}`)
	postRecord(t, addr, `{"id":"doc-2","fields":{"type":"fridge","temp":3}}`)

	deadline := time.Now().Add(5 * time.Second)
	var s Stats
	for {
		s = fetchStats(t, addr)
		if s.Worker.Processed == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("records not processed: %+v", s)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if s.Worker.Alerted != 1 {
		t.Errorf("expected 1 alerted record, got %d", s.Worker.Alerted)
	}
	if !s.Escalation.SMS || s.Escalation.Email {
		t.Errorf("expected only sms escalation enabled, got %+v", s.Escalation)
	}

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected healthy, got %d", resp.StatusCode)
	}

	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sent := b.Sent()
	if len(sent) != 1 || sent[0].Title != rules.TitleFridgeBreach || sent[0].Data[notify.MetaRecordID] != "doc-1" {
		t.Errorf("unexpected broadcasts %+v", sent)
	}
	// Shutdown waits for in-flight escalations
	texts := sms.Sent()
	if len(texts) != 1 || !strings.Contains(texts[0].Body, rules.TitleFridgeBreach) {
		t.Errorf("unexpected texts %+v", texts)
	}
}

func TestProcessor_WebsocketBackend(t *testing.T) {
	p := New(testConfig(config.BroadcastWebsocket))
	stop := start(t, p)
	addr := p.Addr()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for p.hub.Subscribers() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	postRecord(t, addr, `{"id":"doc-7","fields":{"type":"oven","mode":"hot_hold","temp":55}}`)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg notify.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Title != rules.TitleHotHoldUnsafe || msg.Topic != notify.DefaultTopic || msg.Data[notify.MetaRecordID] != "doc-7" {
		t.Errorf("unexpected message %+v", msg)
	}

	if s := fetchStats(t, addr); s.Hub == nil || s.Hub.Subscribers != 1 {
		t.Errorf("expected hub stats, got %+v", s.Hub)
	}

	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestProcessor_ListenError(t *testing.T) {
	cfg := testConfig(config.BroadcastLog)
	cfg.HTTP.Addr = "256.0.0.1:99999"

	if err := New(cfg).Run(context.Background()); err == nil {
		t.Fatal("expected listen error")
	}
}
