package flow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crispdesk/internal/domain"
)

func TestBugReport_CollectsUntilExit(t *testing.T) {
	h := newHarness(t)
	done := h.start(context.Background(), h.say("1"))

	sent := h.waitSent(1)
	assert.Contains(t, sent[0], "Please provide details about the bug")

	h.say("The app crashes on login")
	sent = h.waitSent(2)
	assert.Equal(t, "Bug details collected so far:\n- The app crashes on login\n\nType 'exit' to submit the bug report or provide additional details:", sent[1])

	h.say("Only on Android")
	sent = h.waitSent(3)
	assert.Contains(t, sent[2], "- The app crashes on login\n- Only on Android")

	h.say("exit")
	require.NoError(t, h.wait(done))

	sent = h.gateway.Sent(testConv)
	require.Len(t, sent, 4, "exit must produce exactly one closing message")
	assert.Equal(t, fmt.Sprintf(bugReportSubmitted, 1), sent[3])

	reports := h.dir.savedReports()
	require.Len(t, reports, 1)
	assert.Equal(t, []string{"The app crashes on login", "Only on Android"}, reports[0].Details)
	assert.Equal(t, testConv, reports[0].ConversationID)
	assert.Equal(t, testUser, reports[0].ParticipantID)
}

func TestBugReport_ImmediateExit(t *testing.T) {
	h := newHarness(t)
	done := h.start(context.Background(), h.say("Report a bug"))

	h.waitSent(1)
	h.say("exit")
	require.NoError(t, h.wait(done))

	assert.Equal(t, bugReportExited, h.gateway.Sent(testConv)[1])
	assert.Len(t, h.gateway.Sent(testConv), 2)
	assert.Empty(t, h.dir.savedReports())
}

func TestBugReport_TimeoutKeepsDetails(t *testing.T) {
	h := newHarness(t, withTimeout(150*time.Millisecond))
	done := h.start(context.Background(), h.say("1"))

	h.waitSent(1)
	h.say("Blank screen")
	require.NoError(t, h.wait(done))

	sent := h.gateway.Sent(testConv)
	assert.Equal(t, msgTimedOut, sent[len(sent)-1])
	require.Len(t, h.dir.savedReports(), 1)
}

func TestAirtimeNotReceived(t *testing.T) {
	const notification = "Transaction of 500 FCFA via MTN Mobile Money was successful. " +
		"Payment ID: PAY-1. Transaction ID: TX-2. External Transaction ID: EXT-3. " +
		"Date: 2024-01-15 10:30:00. Reason: Airtime purchase."

	t.Run("details found", func(t *testing.T) {
		h := newHarness(t)
		done := h.start(context.Background(), h.say("2"))
		h.waitSent(1)
		h.say(notification)
		require.NoError(t, h.wait(done))

		sent := h.gateway.Sent(testConv)
		require.Len(t, sent, 2)
		assert.Contains(t, sent[1], "Amount: 500 FCFA")
		assert.Contains(t, sent[1], "Transaction ID: TX-2")
		assert.Contains(t, sent[1], "Reason: Airtime purchase")
	})

	t.Run("nothing found", func(t *testing.T) {
		h := newHarness(t)
		done := h.start(context.Background(), h.say("2"))
		h.waitSent(1)
		h.say("I did not get my credit")
		require.NoError(t, h.wait(done))
		assert.Equal(t, airtimeNotFound, h.gateway.Sent(testConv)[1])
	})

	t.Run("timeout", func(t *testing.T) {
		h := newHarness(t, withTimeout(80*time.Millisecond))
		require.NoError(t, h.engine.Handle(context.Background(), h.say("2")))
		assert.Equal(t, []string{airtimePrompt, msgTimedOut}, h.gateway.Sent(testConv))
	})
}

func TestTalkToAgent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Handle(context.Background(), h.say("6")))

	sent := h.gateway.Sent(testConv)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "get you connected")
	op, ok := h.gateway.Assignment(testConv)
	require.True(t, ok)
	assert.Equal(t, testUser, op, "falls back to the participant when no operator is configured")
}

func TestTalkToAgent_ConfiguredOperator(t *testing.T) {
	h := newHarness(t)
	s := h.engine.newSession(h.say("6"))

	_, err := (&TalkToAgent{OperatorID: "op_42"}).Run(context.Background(), s)
	require.NoError(t, err)
	op, _ := h.gateway.Assignment(testConv)
	assert.Equal(t, "op_42", op)
}

func TestFindUsers(t *testing.T) {
	h := newHarness(t)
	h.dir.users = []domain.User{
		{ID: 1, Name: "Alice Ngono", Email: "alice@example.com"},
		{ID: 2, Name: "Bob Fotso", Email: "bob@example.org"},
	}

	done := h.start(context.Background(), h.say("7"))
	sent := h.waitSent(1)
	assert.Equal(t, "Please enter a user name or email to search:", sent[0])
	h.say("alice")
	require.NoError(t, h.wait(done))
	assert.Equal(t, "Users found:\nID: 1, Name: Alice Ngono, Email: alice@example.com", h.gateway.Sent(testConv)[1])

	done = h.start(context.Background(), h.say("7"))
	h.waitSent(3)
	h.say("zed")
	require.NoError(t, h.wait(done))
	assert.Equal(t, "No users found matching 'zed'.", h.gateway.Sent(testConv)[3])
}

func TestRecentPosts(t *testing.T) {
	h := newHarness(t)
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	h.dir.posts = []domain.Post{
		{ID: 1, UserID: 1, Message: "old news", CreatedAt: now.Add(-20 * time.Hour)},
		{ID: 2, UserID: 2, Message: "fresh chirp", CreatedAt: now.Add(-time.Hour)},
	}
	s := h.engine.newSession(h.say("8"))

	_, err := (&RecentPosts{Directory: h.dir, Now: func() time.Time { return now }}).Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, []string{"Chirps for today:\n- fresh chirp (14:00)"}, h.gateway.Sent(testConv))

	h.dir.posts = nil
	_, err = (&RecentPosts{Directory: h.dir, Now: func() time.Time { return now }}).Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "No chirps found for today.", h.gateway.Sent(testConv)[1])
}

func TestCountAndListUsers(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Handle(context.Background(), h.say("10")))
	h.dir.users = []domain.User{
		{ID: 1, Name: "Alice", Email: "a@x.io"},
		{ID: 2, Name: "Bob", Email: "b@x.io"},
	}
	require.NoError(t, h.engine.Handle(context.Background(), h.say("9")))
	require.NoError(t, h.engine.Handle(context.Background(), h.say("10")))

	assert.Equal(t, []string{
		"No users found in the database.",
		"Total number of users: 2",
		"Users in the database:\nID: 1, Name: Alice, Email: a@x.io\nID: 2, Name: Bob, Email: b@x.io",
	}, h.gateway.Sent(testConv))
}

func TestInquiries(t *testing.T) {
	h := newHarness(t)
	done := h.start(context.Background(), h.say("11"))

	h.waitSent(1)
	h.say("My AIRTIME never arrived")
	sent := h.waitSent(3)
	assert.Equal(t, inquiryAirtime, sent[1])

	h.say("how do I buy a bundle")
	sent = h.waitSent(5)
	assert.Equal(t, inquiryData, sent[3])

	h.say("where is your office")
	sent = h.waitSent(7)
	assert.Equal(t, inquiryGeneric, sent[5])

	h.say("exit")
	require.NoError(t, h.wait(done))
	sent = h.gateway.Sent(testConv)
	assert.Equal(t, inquiryGoodbye, sent[len(sent)-1])
	assert.Len(t, sent, 8)
}

func TestAnswerInquiry(t *testing.T) {
	assert.Equal(t, inquiryAirtime, answerInquiry("airtime please"))
	assert.Equal(t, inquiryData, answerInquiry("DATA plans"))
	assert.Equal(t, inquiryData, answerInquiry("bundles"))
	assert.Equal(t, inquiryGeneric, answerInquiry("hello there"))
}
