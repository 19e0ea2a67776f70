package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/wa-dispatch/internal/ai"
	appErrors "github.com/unclebandit/wa-dispatch/internal/errors"
	"github.com/unclebandit/wa-dispatch/internal/mocks"
	"github.com/unclebandit/wa-dispatch/internal/model"
	"github.com/unclebandit/wa-dispatch/internal/whatsapp"
)

var workerNow = time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)

type workerFixture struct {
	store    *fakeStore
	gateway  *mocks.MockGateway
	para     *mocks.MockParaphraser
	notifier *recordingNotifier
	worker   *MessageWorker
}

func newWorkerFixture(t *testing.T) *workerFixture {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	store := newFakeStore()
	started := workerNow.Add(-time.Hour)
	store.addCampaign(&model.Campaign{ID: "c1", TenantID: "t1", Name: "Promo", Status: model.CampaignScheduled, StartedAt: &started})
	store.addInstance("t1", "zap-01", "secret")

	f := &workerFixture{
		store:    store,
		gateway:  mocks.NewMockGateway(ctrl),
		para:     mocks.NewMockParaphraser(ctrl),
		notifier: &recordingNotifier{},
	}
	f.worker = &MessageWorker{
		Campaigns:   fakeCampaigns{store},
		Logs:        fakeLogs{store},
		Instances:   fakeInstances{store},
		Gateway:     f.gateway,
		Paraphraser: f.para,
		Completion: &CompletionDetector{
			Campaigns: fakeCampaigns{store},
			Logs:      fakeLogs{store},
			Notifier:  f.notifier,
			Log:       zerolog.Nop(),
			Now:       fixedClock(workerNow),
		},
		Lease: &fakeLease{},
		Log:   zerolog.Nop(),
		Now:   fixedClock(workerNow),
	}
	return f
}

func (f *workerFixture) queue(id, content string) model.DispatchJob {
	m := &model.MessageLog{
		ID:           id,
		TenantID:     "t1",
		CampaignID:   "c1",
		InstanceName: "zap-01",
		Phone:        "5511999990001",
		Content:      content,
		Status:       model.MessageQueued,
		ScheduledFor: workerNow,
		Metadata:     model.Metadata{ProtectedValues: []string{"Ana", "A-77"}},
	}
	f.store.addLog(m)
	return model.JobFromLog(m, model.HandlerSend)
}

func sent(id string) *whatsapp.SendResult {
	return &whatsapp.SendResult{MessageID: id, Raw: []byte(`{"key":{"id":"` + id + `"}}`)}
}

func TestMessageWorker_RedeliveryDoesNotResend(t *testing.T) {
	f := newWorkerFixture(t)
	job := f.queue("m1", "Olá Ana")
	f.queue("m2", "Olá Bia")

	f.gateway.EXPECT().SendText(gomock.Any(), gomock.Any(), "5511999990001", "Olá Ana").Return(sent("wamid-1"), nil).Times(1)

	first, err := f.worker.Process(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, first.NewlySent)

	second, err := f.worker.Process(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.False(t, second.NewlySent)
	assert.Equal(t, "wamid-1", second.ProviderMessageID)

	assert.Equal(t, 1, f.store.sendCounter["m1"])
	assert.Equal(t, 1, f.store.campaign("c1").SentCount)
}

func TestMessageWorker_MissingCredentialIsPermanent(t *testing.T) {
	f := newWorkerFixture(t)
	job := f.queue("m1", "Olá Ana")
	job.InstanceName = "zap-99"

	out, err := f.worker.Process(context.Background(), job)
	require.Error(t, err)
	assert.True(t, appErrors.IsNotFound(err))
	assert.False(t, out.Retry)

	m := f.store.log("m1")
	assert.Equal(t, model.MessageFailed, m.Status)
	assert.Equal(t, model.FailurePermanent, m.Failure)
	assert.True(t, m.Done())
}

func TestMessageWorker_PauseHonored(t *testing.T) {
	for _, status := range []model.CampaignStatus{model.CampaignPaused, model.CampaignCancelled} {
		t.Run(string(status), func(t *testing.T) {
			f := newWorkerFixture(t)
			job := f.queue("m1", "Olá Ana")
			_, _ = fakeCampaigns{f.store}.TransitionStatus(context.Background(), "c1", status, model.CampaignScheduled)

			out, err := f.worker.Process(context.Background(), job)
			require.NoError(t, err)
			assert.Equal(t, model.MessageStatus(status), out.Status)
			assert.Equal(t, model.MessageStatus(status), f.store.log("m1").Status)
		})
	}
}

func TestMessageWorker_SendFailureIsRetryable(t *testing.T) {
	f := newWorkerFixture(t)
	job := f.queue("m1", "Olá Ana")
	f.queue("m2", "Olá Bia")

	gomock.InOrder(
		f.gateway.EXPECT().SendText(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, &whatsapp.StatusError{StatusCode: 503, Body: []byte("busy")}),
		f.gateway.EXPECT().SendText(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(sent("wamid-2"), nil),
	)

	out, err := f.worker.Process(context.Background(), job)
	require.Error(t, err)
	assert.True(t, out.Retry)
	m := f.store.log("m1")
	assert.Equal(t, model.MessageFailed, m.Status)
	assert.Equal(t, model.FailureRetryable, m.Failure)
	assert.Contains(t, m.ErrorMessage, "503")

	out, err = f.worker.Process(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, out.NewlySent)
	assert.Equal(t, model.MessageSent, f.store.log("m1").Status)
}

func TestMessageWorker_LeaseHeldAsksForRetry(t *testing.T) {
	f := newWorkerFixture(t)
	job := f.queue("m1", "Olá Ana")
	_, ok, _ := f.worker.Lease.Acquire(context.Background(), "m1")
	require.True(t, ok)

	out, err := f.worker.Process(context.Background(), job)
	assert.ErrorIs(t, err, ErrLeaseHeld)
	assert.True(t, out.Retry)
	assert.Equal(t, model.MessageQueued, f.store.log("m1").Status)
}

func TestMessageWorker_ConcurrentDuplicatesSendOnce(t *testing.T) {
	f := newWorkerFixture(t)
	job := f.queue("m1", "Olá Ana")

	f.gateway.EXPECT().SendText(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, inst model.Instance, phone, text string) (*whatsapp.SendResult, error) {
			time.Sleep(10 * time.Millisecond)
			return sent("wamid-1"), nil
		}).Times(1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.worker.Process(context.Background(), job)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.store.sendCounter["m1"])
	assert.Equal(t, 1, f.store.campaign("c1").SentCount)
}

func TestMessageWorker_LastMessageCompletesCampaign(t *testing.T) {
	f := newWorkerFixture(t)
	job := f.queue("m1", "Olá Ana")

	f.gateway.EXPECT().SendText(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(sent("wamid-1"), nil)

	_, err := f.worker.Process(context.Background(), job)
	require.NoError(t, err)

	c := f.store.campaign("c1")
	assert.Equal(t, model.CampaignCompleted, c.Status)
	require.NotNil(t, c.CompletedAt)
	require.Equal(t, 1, f.notifier.completionCount())
	assert.Equal(t, 1, f.notifier.completions[0].Sent)
	assert.Equal(t, []string{"zap-01"}, f.notifier.completions[0].Instances)

	// replay after completion neither resends nor notifies again
	_, err = f.worker.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, f.notifier.completionCount())
}

func TestMessageWorker_MediaUsesCaption(t *testing.T) {
	f := newWorkerFixture(t)
	job := f.queue("m1", "Catálogo novo")
	f.store.logs["m1"].MediaURL = "https://cdn.example.com/catalogo.pdf"
	f.store.logs["m1"].MediaType = "document"

	f.gateway.EXPECT().
		SendMedia(gomock.Any(), gomock.Any(), "5511999990001", "https://cdn.example.com/catalogo.pdf", "document", "Catálogo novo").
		Return(sent("wamid-3"), nil)

	out, err := f.worker.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "wamid-3", out.ProviderMessageID)
}

func TestMessageWorker_AIRewriteKeepsContactValues(t *testing.T) {
	f := newWorkerFixture(t)
	job := f.queue("m1", "Olá Ana, seu pedido A-77 saiu para entrega")
	job.Handler = model.HandlerSendAI

	f.para.EXPECT().Rewrite(gomock.Any(), "Olá [[2]], seu pedido [[1]] saiu para entrega").
		Return(&ai.Rewrite{Text: "Oi [[2]]! O pedido [[1]] já está a caminho", Model: "gpt-4o-mini"}, nil)
	f.gateway.EXPECT().SendText(gomock.Any(), gomock.Any(), gomock.Any(), "Oi Ana! O pedido A-77 já está a caminho").
		Return(sent("wamid-4"), nil)

	_, err := f.worker.Process(context.Background(), job)
	require.NoError(t, err)

	m := f.store.log("m1")
	assert.Equal(t, "Oi Ana! O pedido A-77 já está a caminho", m.Content)
	assert.True(t, m.Metadata.AIAttempted)
	assert.True(t, m.Metadata.AISucceeded)
	assert.Equal(t, "gpt-4o-mini", m.Metadata.AIModel)
	assert.Equal(t, "Olá Ana, seu pedido A-77 saiu para entrega", m.Metadata.OriginalContent)
}

func TestMessageWorker_AIFailureFallsBackToOriginal(t *testing.T) {
	tests := []struct {
		name    string
		rewrite *ai.Rewrite
		err     error
	}{
		{name: "provider error", err: errors.New("all models failed")},
		{name: "value dropped", rewrite: &ai.Rewrite{Text: "Oi! Seu pedido saiu", Model: "m"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWorkerFixture(t)
			job := f.queue("m1", "Olá Ana, pedido A-77")
			job.Handler = model.HandlerSendAI

			f.para.EXPECT().Rewrite(gomock.Any(), gomock.Any()).Return(tt.rewrite, tt.err)
			f.gateway.EXPECT().SendText(gomock.Any(), gomock.Any(), gomock.Any(), "Olá Ana, pedido A-77").Return(sent("wamid-5"), nil)

			out, err := f.worker.Process(context.Background(), job)
			require.NoError(t, err)
			assert.True(t, out.NewlySent)

			m := f.store.log("m1")
			assert.True(t, m.Metadata.AIAttempted)
			assert.False(t, m.Metadata.AISucceeded)
			assert.NotEmpty(t, m.Metadata.AIError)
		})
	}
}

func TestMessageWorker_AISkippedForMediaWithoutText(t *testing.T) {
	f := newWorkerFixture(t)
	job := f.queue("m1", "")
	job.Handler = model.HandlerSendAI
	f.store.logs["m1"].MediaURL = "https://cdn.example.com/a.jpg"

	f.gateway.EXPECT().SendMedia(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), "").Return(sent("wamid-6"), nil)

	_, err := f.worker.Process(context.Background(), job)
	require.NoError(t, err)
	assert.False(t, f.store.log("m1").Metadata.AIAttempted)
}

func TestMessageWorker_HandleOnlyRedeliversRetryable(t *testing.T) {
	f := newWorkerFixture(t)
	missing := f.queue("m1", "Olá Ana")
	missing.InstanceName = "zap-99"
	assert.NoError(t, f.worker.Handle(context.Background(), missing))

	job := f.queue("m2", "Olá Bia")
	f.gateway.EXPECT().SendText(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("timeout"))
	assert.Error(t, f.worker.Handle(context.Background(), job))
}
