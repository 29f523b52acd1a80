package copilot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jholhewres/penny/pkg/penny/channels"
)

var (
	selfUser  = channels.User{ID: "bot", Username: "penny", Bot: true}
	alice     = channels.User{ID: "u-alice", Username: "alice", GlobalName: "Alice A."}
	bob       = channels.User{ID: "u-bob", Username: "bob"}
	baseTime  = time.Date(2024, 1, 15, 20, 30, 0, 0, time.UTC)
	errFlaky  = errors.New("gateway unavailable")
	errFailed = errors.New("generation exploded")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway is an in-memory channels.Gateway with call recording.
type fakeGateway struct {
	mu sync.Mutex

	self     channels.User
	history  []*channels.Message // oldest first
	byID     map[string]*channels.Message
	fetchErr map[string]error
	members  map[string]*channels.Member
	chans    map[string]*channels.ChannelInfo

	renameErr error
	sendErr   error
	threadErr error

	sent         []sentMessage
	renames      []string
	threads      []string // parent IDs
	fetchedIDs   []string
	recentCalls  int
	memberLookup int
}

type sentMessage struct {
	ChannelID string
	Content   string
	ReplyTo   string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		self:     selfUser,
		byID:     make(map[string]*channels.Message),
		fetchErr: make(map[string]error),
		members:  make(map[string]*channels.Member),
		chans:    make(map[string]*channels.ChannelInfo),
	}
}

// add appends an ordinary message; each one is a minute newer than the last.
func (g *fakeGateway) add(id string, author channels.User, content, replyTo string) *channels.Message {
	g.mu.Lock()
	defer g.mu.Unlock()

	m := &channels.Message{
		ID:        id,
		ChannelID: "c1",
		Author:    author,
		Content:   content,
		Timestamp: baseTime.Add(time.Duration(len(g.history)) * time.Minute),
		Type:      channels.MessageDefault,
	}
	if replyTo != "" {
		m.Reference = &channels.MessageReference{MessageID: replyTo, ChannelID: "c1"}
	}
	g.history = append(g.history, m)
	g.byID[id] = m
	return m
}

func (g *fakeGateway) remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.byID, id)
	for i, m := range g.history {
		if m.ID == id {
			g.history = append(g.history[:i], g.history[i+1:]...)
			return
		}
	}
}

func (g *fakeGateway) Name() string                              { return "fake" }
func (g *fakeGateway) Connect(context.Context) error             { return nil }
func (g *fakeGateway) Disconnect() error                         { return nil }
func (g *fakeGateway) Receive() <-chan *channels.IncomingMessage { return nil }
func (g *fakeGateway) IsConnected() bool                         { return true }
func (g *fakeGateway) Health() channels.HealthStatus             { return channels.HealthStatus{Connected: true} }
func (g *fakeGateway) Self() channels.User                       { return g.self }

func (g *fakeGateway) Send(_ context.Context, to string, msg *channels.OutgoingMessage) (*channels.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return nil, g.sendErr
	}
	g.sent = append(g.sent, sentMessage{ChannelID: to, Content: msg.Content, ReplyTo: msg.ReplyTo})
	return &channels.Message{ID: fmt.Sprintf("sent-%d", len(g.sent)), ChannelID: to, Author: g.self, Content: msg.Content}, nil
}

func (g *fakeGateway) FetchRecent(_ context.Context, _ string, limit int) ([]*channels.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recentCalls++

	out := make([]*channels.Message, 0, limit)
	for i := len(g.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, g.history[i])
	}
	return out, nil
}

func (g *fakeGateway) FetchMessage(_ context.Context, _ string, id string) (*channels.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchedIDs = append(g.fetchedIDs, id)

	if err, ok := g.fetchErr[id]; ok {
		return nil, err
	}
	m, ok := g.byID[id]
	if !ok {
		return nil, fmt.Errorf("fake: %s: %w", id, channels.ErrMessageNotFound)
	}
	return m, nil
}

func (g *fakeGateway) FetchChannel(_ context.Context, id string) (*channels.ChannelInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ch, ok := g.chans[id]; ok {
		return ch, nil
	}
	return nil, channels.ErrChannelNotFound
}

func (g *fakeGateway) Member(_ context.Context, _ string, userID string) (*channels.Member, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.memberLookup++
	if m, ok := g.members[userID]; ok {
		return m, nil
	}
	return nil, channels.ErrMemberNotFound
}

func (g *fakeGateway) CreateThread(_ context.Context, parentID, name string) (*channels.ChannelInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.threadErr != nil {
		return nil, g.threadErr
	}
	g.threads = append(g.threads, parentID)
	return &channels.ChannelInfo{ID: "t-new", Name: name, Kind: channels.KindGuildThread, OwnerID: g.self.ID, ParentID: parentID}, nil
}

func (g *fakeGateway) RenameChannel(_ context.Context, _ string, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.renameErr != nil {
		return g.renameErr
	}
	g.renames = append(g.renames, name)
	return nil
}

// fakeGenerator returns queued completions and records prompts.
type fakeGenerator struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
	params    []GenerationParams
	image     []byte
	imageErr  error
}

func (f *fakeGenerator) Complete(_ context.Context, prompt string, params GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.params = append(f.params, params)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", nil
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r, nil
}

func (f *fakeGenerator) GenerateImage(context.Context, string) ([]byte, error) {
	return f.image, f.imageErr
}

// recordingResponder captures command answers.
type recordingResponder struct {
	mu        sync.Mutex
	responses []string
	ephemeral []bool
	deferred  bool
	followUps []string
	media     []*channels.MediaMessage
	followErr error
}

func (r *recordingResponder) Respond(_ context.Context, content string, ephemeral bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, content)
	r.ephemeral = append(r.ephemeral, ephemeral)
	return nil
}

func (r *recordingResponder) Defer(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deferred = true
	return nil
}

func (r *recordingResponder) FollowUp(_ context.Context, content string, media *channels.MediaMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if media != nil && r.followErr != nil {
		return r.followErr
	}
	r.followUps = append(r.followUps, content)
	r.media = append(r.media, media)
	return nil
}
