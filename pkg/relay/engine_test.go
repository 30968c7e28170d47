package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/goleak"

	"github.com/tinyland-inc/linecord/pkg/bus"
	"github.com/tinyland-inc/linecord/pkg/discord"
	"github.com/tinyland-inc/linecord/pkg/media"
	"github.com/tinyland-inc/linecord/pkg/metrics"
	"github.com/tinyland-inc/linecord/pkg/store"
)

const squareMID = "m45c50782d24820a6288b24f7a07365cc"

type fakeResolver struct {
	link     string
	err      error
	resolves atomic.Int32
}

func (f *fakeResolver) Sticker(msg bus.InboundMessage) (string, bool) {
	return media.StickerURL("", msg.Metadata)
}

func (f *fakeResolver) Resolve(context.Context, bus.InboundMessage) (string, error) {
	f.resolves.Add(1)
	return f.link, f.err
}

type countingAPI struct {
	creates atomic.Int32
}

func (c *countingAPI) Channel(id string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: id, Type: discordgo.ChannelTypeGuildText}, nil
}

func (c *countingAPI) WebhookCreate(channelID, name, _ string, _ ...discordgo.RequestOption) (*discordgo.Webhook, error) {
	c.creates.Add(1)
	return &discordgo.Webhook{ID: "1", Token: "t"}, nil
}

var open = GateFunc(func() bool { return true })

// runEngine feeds msgs through a fresh engine and returns everything it
// published once all of them have been processed.
func runEngine(t *testing.T, gate Gate, res Resolver, msgs ...bus.InboundMessage) []bus.OutboundMessage {
	t.Helper()

	mb := bus.NewMessageBus()
	e := NewEngine(Config{SquareChatMID: squareMID}, mb, gate, res)
	want := handledCount(t) + float64(len(msgs))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()

	for _, m := range msgs {
		if err := mb.PublishInbound(ctx, m); err != nil {
			t.Fatalf("PublishInbound: %v", err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for handledCount(t) < want {
		if time.Now().After(deadline) {
			t.Fatal("engine did not finish all messages")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	var out []bus.OutboundMessage
	for mb.Outbound().Len() > 0 {
		m, _ := mb.SubscribeOutbound(context.Background())
		out = append(out, m)
	}
	return out
}

func handledCount(t *testing.T) float64 {
	t.Helper()
	var m dto.Metric
	if err := metrics.MessagesHandled.Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func textMsg(chat, text string) bus.InboundMessage {
	return bus.InboundMessage{
		ChatID:      chat,
		MessageID:   "100",
		Author:      bus.Author{MID: "u1", DisplayName: "Alice", IconURL: "https://profile.line-scdn.net/icon"},
		ContentType: bus.ContentText,
		Text:        text,
	}
}

func TestEngine_TextRelayed(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	out := runEngine(t, open, &fakeResolver{}, textMsg(squareMID, "hello there"))
	if len(out) != 1 {
		t.Fatalf("deliveries: got %d, want 1", len(out))
	}
	got := out[0]
	if got.Content != "hello there" || got.Username != "Alice" || got.AvatarURL != "https://profile.line-scdn.net/icon" {
		t.Errorf("payload: got %+v", got)
	}
	if got.TraceID == "" {
		t.Error("missing trace id")
	}
}

func TestEngine_OtherChatIgnored(t *testing.T) {
	res := &fakeResolver{}
	img := bus.InboundMessage{ChatID: "mOTHER", MessageID: "1", ContentType: bus.ContentImage, HasData: true}

	out := runEngine(t, open, res, textMsg("mOTHER", "hi"), img)
	if len(out) != 0 {
		t.Errorf("deliveries: got %d, want 0", len(out))
	}
	if res.resolves.Load() != 0 {
		t.Error("media resolved for message from another chat")
	}
}

func TestEngine_GateClosedCreatesNothing(t *testing.T) {
	api := &countingAPI{}
	st, err := store.OpenFile(filepath.Join(t.TempDir(), "storage.json"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	endpoints := discord.NewEndpointManager(api, st, discord.EndpointConfig{ChannelID: "42"})
	gate := GateFunc(func() bool {
		_, ok := endpoints.Current()
		return ok
	})

	out := runEngine(t, gate, &fakeResolver{}, textMsg(squareMID, "first"), textMsg(squareMID, "second"))
	if len(out) != 0 {
		t.Errorf("deliveries: got %d, want 0", len(out))
	}
	if n := api.creates.Load(); n != 0 {
		t.Errorf("webhooks created: got %d, want 0", n)
	}
}

func TestEngine_Sticker(t *testing.T) {
	msg := bus.InboundMessage{
		ChatID:      squareMID,
		MessageID:   "5",
		Author:      bus.Author{DisplayName: "Bob"},
		ContentType: bus.ContentSticker,
		Metadata:    map[string]string{"STKVER": "100", "STKID": "12345", "STKOPT": "A"},
	}
	out := runEngine(t, open, &fakeResolver{}, msg)
	if len(out) != 1 {
		t.Fatalf("deliveries: got %d, want 1", len(out))
	}
	want := "https://stickershop.line-scdn.net/stickershop/v1/sticker/12345/android/sticker_animation.png"
	if out[0].Content != want {
		t.Errorf("content: got %q, want %q", out[0].Content, want)
	}
}

func TestEngine_StickerWithoutIDFallsBackToText(t *testing.T) {
	msg := textMsg(squareMID, "(sticker)")
	msg.ContentType = bus.ContentSticker
	msg.Metadata = map[string]string{"STKVER": "100"}

	out := runEngine(t, open, &fakeResolver{}, msg)
	if len(out) != 1 || out[0].Content != "(sticker)" {
		t.Errorf("deliveries: got %+v", out)
	}

	msg.Text = ""
	if out := runEngine(t, open, &fakeResolver{}, msg); len(out) != 0 {
		t.Errorf("empty sticker: got %d deliveries, want 0", len(out))
	}
}

func TestEngine_MediaResolved(t *testing.T) {
	res := &fakeResolver{link: "https://storage.evex.land/download?key=k"}
	for _, ct := range []bus.ContentType{bus.ContentImage, bus.ContentVideo, bus.ContentFile} {
		msg := bus.InboundMessage{ChatID: squareMID, MessageID: "9", ContentType: ct, HasData: true}
		out := runEngine(t, open, res, msg)
		if len(out) != 1 || out[0].Content != res.link {
			t.Errorf("%v: got %+v", ct, out)
		}
	}
}

func TestEngine_MediaFailureDrops(t *testing.T) {
	res := &fakeResolver{err: errors.New("upload rejected")}
	msg := bus.InboundMessage{ChatID: squareMID, MessageID: "9", ContentType: bus.ContentImage, HasData: true, Text: "caption"}

	if out := runEngine(t, open, res, msg); len(out) != 0 {
		t.Errorf("deliveries: got %d, want 0", len(out))
	}
}

type fetcher []byte

func (f fetcher) FetchObject(context.Context, string) ([]byte, error) { return f, nil }

func TestEngine_RejectedUploadDeliversNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	res := media.NewResolver(media.Config{StorageBaseURL: srv.URL}, fetcher("png-bytes"))
	msg := bus.InboundMessage{ChatID: squareMID, MessageID: "9", ContentType: bus.ContentImage, HasData: true}

	if out := runEngine(t, open, res, msg); len(out) != 0 {
		t.Errorf("deliveries: got %d, want 0", len(out))
	}
}

func TestEngine_EmptyTextNotDelivered(t *testing.T) {
	other := bus.InboundMessage{ChatID: squareMID, MessageID: "3", ContentType: bus.ContentOther}
	if out := runEngine(t, open, &fakeResolver{}, textMsg(squareMID, ""), other); len(out) != 0 {
		t.Errorf("deliveries: got %d, want 0", len(out))
	}
}

func TestEngine_EveryContentTypeTerminates(t *testing.T) {
	var msgs []bus.InboundMessage
	for _, ct := range bus.ContentTypes {
		msgs = append(msgs, bus.InboundMessage{ChatID: squareMID, MessageID: ct.String(), ContentType: ct, Text: "x"})
	}
	out := runEngine(t, open, &fakeResolver{}, msgs...)
	if len(out) != len(bus.ContentTypes) {
		t.Errorf("deliveries: got %d, want %d", len(out), len(bus.ContentTypes))
	}
}

func TestEngine_ConcurrentMessagesAllDelivered(t *testing.T) {
	var msgs []bus.InboundMessage
	for i := 0; i < 50; i++ {
		msgs = append(msgs, textMsg(squareMID, "msg"))
	}
	if out := runEngine(t, open, &fakeResolver{}, msgs...); len(out) != 50 {
		t.Errorf("deliveries: got %d, want 50", len(out))
	}
}

func TestSanitizeMentions(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hi @everyone", "hi @ everyone"},
		{"@here look", "@ here look"},
		{"@everyone and @everyone", "@ everyone and @ everyone"},
		{"@here @everyone", "@ here @ everyone"},
		{"email me at a@example.com", "email me at a@example.com"},
		{"plain text", "plain text"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeMentions(tt.in); got != tt.want {
			t.Errorf("SanitizeMentions(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
