package copilot

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jholhewres/penny/pkg/penny/channels"
	"github.com/jholhewres/penny/pkg/penny/channels/console"
	"go.uber.org/goleak"
)

// newTestAssistant wires an assistant to a fake gateway and generator.
func newTestAssistant(t *testing.T, responses ...string) (*Assistant, *fakeGateway, *fakeGenerator) {
	t.Helper()
	a, err := New(DefaultConfig(), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	gen := &fakeGenerator{responses: responses}
	a.SetGenerator(gen)

	gw := newFakeGateway()
	if err := a.ChannelManager().Register(gw); err != nil {
		t.Fatal(err)
	}
	return a, gw, gen
}

func incoming(msg *channels.Message, ch *channels.ChannelInfo) *channels.IncomingMessage {
	return &channels.IncomingMessage{Channel: "fake", Message: msg, Chat: ch}
}

func ownedThread(name string) *channels.ChannelInfo {
	return &channels.ChannelInfo{
		ID:       "c1",
		Name:     name,
		Kind:     channels.KindGuildThread,
		GuildID:  "g1",
		OwnerID:  selfUser.ID,
		ParentID: "c0",
	}
}

func TestTurnDirectMessage(t *testing.T) {
	a, gw, gen := newTestAssistant(t, "Salutations! How can I help?")
	dm := &channels.ChannelInfo{ID: "c1", Kind: channels.KindDirectMessage, Recipient: &alice}
	msg := gw.add("m1", alice, "hello", "")

	a.handleMessage(context.Background(), incoming(msg, dm))

	want := []sentMessage{{ChannelID: "c1", Content: "Salutations! How can I help?"}}
	if diff := cmp.Diff(want, gw.sent); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
	if len(gen.prompts) != 1 {
		t.Fatalf("got %d completions, want 1", len(gen.prompts))
	}

	prompt := gen.prompts[0]
	if !strings.HasPrefix(prompt, "The following is a conversation with alice.") {
		t.Errorf("prompt does not open with the DM scene: %q", prompt)
	}
	if !strings.HasSuffix(prompt, "\n\n<alice>\nhello\n\n<Penny>\n") {
		t.Errorf("prompt does not end with the transcript and persona label: %q", prompt)
	}
	if diff := cmp.Diff(StopSequences{StopSequence}, gen.params[0].Stop); diff != "" {
		t.Errorf("stop mismatch (-want +got):\n%s", diff)
	}
	if len(gw.renames) != 0 {
		t.Errorf("DM renamed: %v", gw.renames)
	}
}

func TestTurnMentionReplyChain(t *testing.T) {
	a, gw, gen := newTestAssistant(t, "Indeed!")
	ch := &channels.ChannelInfo{ID: "c1", Name: "general", Kind: channels.KindGuildText, GuildID: "g1"}

	gw.add("m0", bob, "unrelated chatter", "")
	gw.add("m1", bob, "cats are great", "")
	gw.add("m2", alice, "agreed", "m1")
	trigger := gw.add("T", alice, "<@bot> right?", "m2")
	trigger.Mentions = []string{selfUser.ID}

	a.handleMessage(context.Background(), incoming(trigger, ch))

	want := []sentMessage{{ChannelID: "c1", Content: "Indeed!", ReplyTo: "T"}}
	if diff := cmp.Diff(want, gw.sent); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
	if gw.recentCalls != 0 {
		t.Error("mention reply read the channel window")
	}

	prompt := gen.prompts[0]
	if !strings.HasPrefix(prompt, "The following is a conversation in a channel called general.") {
		t.Errorf("prompt does not describe the channel: %q", prompt)
	}
	wantTranscript := "<bob>\ncats are great\n\n<alice>\nagreed\n\n<alice>\n@Penny right?\n\n<Penny>\n"
	if !strings.HasSuffix(prompt, wantTranscript) {
		t.Errorf("prompt transcript mismatch:\n%q", prompt)
	}
	if strings.Contains(prompt, "unrelated chatter") {
		t.Error("prompt contains a message outside the reply chain")
	}
}

// seedThread adds n alternating messages ending with one from alice.
func seedThread(gw *fakeGateway, n int) *channels.Message {
	var last *channels.Message
	for i := 1; i <= n; i++ {
		author := alice
		if (n-i)%2 == 1 {
			author = selfUser
		}
		last = gw.add(fmt.Sprintf("m%d", i), author, fmt.Sprintf("message %d", i), "")
	}
	return last
}

func TestTurnRenamesDefaultThread(t *testing.T) {
	a, gw, gen := newTestAssistant(t, "Sure thing!", "Quantum Picnic")
	trigger := seedThread(gw, 5)

	a.handleMessage(context.Background(), incoming(trigger, ownedThread(DefaultThreadName)))

	if diff := cmp.Diff([]string{"Quantum Picnic"}, gw.renames); diff != "" {
		t.Errorf("renames mismatch (-want +got):\n%s", diff)
	}
	if len(gw.sent) != 1 || gw.sent[0].ReplyTo != "" {
		t.Errorf("unexpected sends: %+v", gw.sent)
	}
	if len(gen.prompts) != 2 {
		t.Fatalf("got %d completions, want 2", len(gen.prompts))
	}

	naming := gen.prompts[1]
	if !strings.Contains(naming, "<Penny>\nSure thing!\n\n---\n\n") {
		t.Errorf("naming prompt does not include the reply: %q", naming)
	}
	if !strings.HasSuffix(naming, `This thread should be called: "`) {
		t.Errorf("naming prompt does not end with the lead: %q", naming)
	}
	if gen.params[1].MaxTokens != 15 {
		t.Errorf("naming max tokens = %d, want 15", gen.params[1].MaxTokens)
	}
	for _, stop := range namingStops {
		found := false
		for _, s := range gen.params[1].Stop {
			found = found || s == stop
		}
		if !found {
			t.Errorf("naming stop %q missing from %q", stop, gen.params[1].Stop)
		}
	}
}

func TestTurnRenameConditions(t *testing.T) {
	tests := []struct {
		name      string
		seed      int
		threadNm  string
		responses []string
		renameErr error
		wantNames []string
		wantSent  []string
	}{
		{
			name:      "short thread",
			seed:      4,
			threadNm:  DefaultThreadName,
			responses: []string{"Sure thing!", "Too Early"},
			wantSent:  []string{"Sure thing!"},
		},
		{
			name:      "already renamed",
			seed:      7,
			threadNm:  "Quantum Picnic",
			responses: []string{"Sure thing!", "Another Name"},
			wantSent:  []string{"Sure thing!"},
		},
		{
			name:      "empty generated name",
			seed:      5,
			threadNm:  DefaultThreadName,
			responses: []string{"Sure thing!", `  "" `},
			wantSent:  []string{"Sure thing!"},
		},
		{
			name:      "permission denied",
			seed:      5,
			threadNm:  DefaultThreadName,
			responses: []string{"Sure thing!", "Quantum Picnic"},
			renameErr: fmt.Errorf("discord: %w", channels.ErrPermissionDenied),
			wantSent:  []string{"Sure thing!", "Apologies, I do not have permission to rename this thread."},
		},
		{
			name:      "other rename failure",
			seed:      5,
			threadNm:  DefaultThreadName,
			responses: []string{"Sure thing!", "Quantum Picnic"},
			renameErr: errFlaky,
			wantSent:  []string{"Sure thing!"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, gw, _ := newTestAssistant(t, tt.responses...)
			gw.renameErr = tt.renameErr
			trigger := seedThread(gw, tt.seed)

			a.handleMessage(context.Background(), incoming(trigger, ownedThread(tt.threadNm)))

			if diff := cmp.Diff(tt.wantNames, gw.renames); diff != "" {
				t.Errorf("renames mismatch (-want +got):\n%s", diff)
			}
			var sent []string
			for _, s := range gw.sent {
				sent = append(sent, s.Content)
			}
			if diff := cmp.Diff(tt.wantSent, sent); diff != "" {
				t.Errorf("sent mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTurnNotAddressed(t *testing.T) {
	tests := []struct {
		name string
		msg  func(gw *fakeGateway) *channels.Message
		ch   *channels.ChannelInfo
	}{
		{
			name: "own message",
			msg:  func(gw *fakeGateway) *channels.Message { return gw.add("m1", selfUser, "hi", "") },
			ch:   ownedThread(DefaultThreadName),
		},
		{
			name: "no mention in text channel",
			msg:  func(gw *fakeGateway) *channels.Message { return gw.add("m1", alice, "hi", "") },
			ch:   &channels.ChannelInfo{ID: "c1", Kind: channels.KindGuildText, GuildID: "g1"},
		},
		{
			name: "system message",
			msg: func(gw *fakeGateway) *channels.Message {
				m := gw.add("m1", alice, "", "")
				m.Type = channels.MessageSystem
				return m
			},
			ch: ownedThread(DefaultThreadName),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, gw, gen := newTestAssistant(t, "should not be used")
			a.handleMessage(context.Background(), incoming(tt.msg(gw), tt.ch))

			if len(gen.prompts) != 0 || len(gw.sent) != 0 {
				t.Errorf("unaddressed message produced %d completions and %d sends", len(gen.prompts), len(gw.sent))
			}
		})
	}
}

func TestTurnFailuresSendNothing(t *testing.T) {
	t.Run("generation error", func(t *testing.T) {
		a, gw, gen := newTestAssistant(t)
		gen.err = &LLMError{Op: "completion", Kind: LLMErrorRateLimit, StatusCode: 429, Err: errFailed}
		msg := gw.add("m1", alice, "hello", "")

		a.handleMessage(context.Background(), incoming(msg, ownedThread(DefaultThreadName)))
		if len(gw.sent) != 0 {
			t.Errorf("sent after a failed generation: %+v", gw.sent)
		}
	})

	t.Run("empty completion", func(t *testing.T) {
		a, gw, _ := newTestAssistant(t, "")
		msg := gw.add("m1", alice, "hello", "")

		a.handleMessage(context.Background(), incoming(msg, ownedThread(DefaultThreadName)))
		if len(gw.sent) != 0 {
			t.Errorf("sent an empty reply: %+v", gw.sent)
		}
	})

	t.Run("unknown channel", func(t *testing.T) {
		a, gw, gen := newTestAssistant(t, "hi")
		msg := gw.add("m1", alice, "hello", "")
		in := incoming(msg, ownedThread(DefaultThreadName))
		in.Channel = "elsewhere"

		a.handleMessage(context.Background(), in)
		if len(gen.prompts) != 0 {
			t.Error("message from an unregistered channel reached generation")
		}
	})

	t.Run("send error", func(t *testing.T) {
		a, gw, _ := newTestAssistant(t, "Sure thing!", "Quantum Picnic")
		gw.sendErr = errFlaky
		trigger := seedThread(gw, 6)

		a.handleMessage(context.Background(), incoming(trigger, ownedThread(DefaultThreadName)))
		if len(gw.renames) != 0 {
			t.Errorf("thread renamed although the reply was not delivered: %v", gw.renames)
		}
	})
}

// syncBuffer is a bytes.Buffer safe for the console writer and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("output never contained %q:\n%s", want, out.String())
}

func TestAssistantLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := DefaultConfig()
	a, err := New(cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	gen := &fakeGenerator{responses: []string{"Salutations!"}}
	a.SetGenerator(gen)

	out := &syncBuffer{}
	con := console.New(cfg.Channels.Console, out, discardLogger())
	if err := a.ChannelManager().Register(con); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := con.Post(ctx, "hello there", ""); err != nil {
		t.Fatal(err)
	}
	waitFor(t, out, "<Penny> Salutations!")

	if err := con.Invoke(ctx, "imagine", map[string]string{"prompt": ""}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, out, "Apologies, I need a prompt")

	a.Stop()

	if len(con.Commands()) != 0 {
		t.Error("command left unconsumed")
	}
}

func TestTurnRenameSkippedWhenNameChanged(t *testing.T) {
	a, gw, gen := newTestAssistant(t, "Sure thing!", "Quantum Picnic")
	trigger := seedThread(gw, 5)
	gw.chans["c1"] = ownedThread("Cosmic Brunch")

	a.handleMessage(context.Background(), incoming(trigger, ownedThread(DefaultThreadName)))

	if len(gen.prompts) != 2 {
		t.Fatalf("got %d completions, want 2", len(gen.prompts))
	}
	if len(gw.renames) != 0 {
		t.Errorf("renamed over a newer name: %v", gw.renames)
	}
}

func TestTurnRenameSkippedWhileNamingInFlight(t *testing.T) {
	a, gw, gen := newTestAssistant(t, "Sure thing!", "Still here!", "Quantum Picnic")
	trigger := seedThread(gw, 5)
	a.renaming.Store("c1", struct{}{})

	a.handleMessage(context.Background(), incoming(trigger, ownedThread(DefaultThreadName)))

	if len(gen.prompts) != 1 {
		t.Errorf("got %d completions, want only the reply", len(gen.prompts))
	}
	if len(gw.renames) != 0 {
		t.Errorf("unexpected renames: %v", gw.renames)
	}

	a.renaming.Delete("c1")
	trigger = gw.add("m9", alice, "still there?", "")
	a.handleMessage(context.Background(), incoming(trigger, ownedThread(DefaultThreadName)))
	if diff := cmp.Diff([]string{"Quantum Picnic"}, gw.renames); diff != "" {
		t.Errorf("renames mismatch (-want +got):\n%s", diff)
	}
}
