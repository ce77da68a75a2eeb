package authflow

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/biometric"
	"github.com/davidleathers/adaptive-auth-backend/internal/domain/challenge"
	"github.com/davidleathers/adaptive-auth-backend/internal/domain/errors"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/keystroke"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/localrisk"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/riskfusion"
	"github.com/davidleathers/adaptive-auth-backend/internal/testutil/fixtures"
)

type flowMocks struct {
	credentials *mockCredentials
	tokens      *mockTokens
	profiles    *mockProfiles
	challenger  *mockChallenger
	scorer      *mockScorer
	publisher   *mockPublisher
}

func newFlow(t *testing.T) (Service, *flowMocks) {
	t.Helper()
	m := &flowMocks{
		credentials: &mockCredentials{},
		tokens:      &mockTokens{},
		profiles:    &mockProfiles{},
		challenger:  &mockChallenger{},
		scorer:      &mockScorer{},
		publisher:   &mockPublisher{},
	}
	svc := NewService(
		m.credentials,
		m.tokens,
		m.profiles,
		m.challenger,
		m.scorer,
		riskfusion.NewEngine(nil),
		m.publisher,
		nil,
	)
	return svc, m
}

func testToken() Token {
	return Token{
		AccessToken: "token-abc",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

func TestService_Login_GrantsMatchedSession(t *testing.T) {
	ctx := context.Background()
	svc, m := newFlow(t)

	identity := uuid.New()
	profile, vector := fixtures.NewBiometricScenarios(t).MatchedPair()

	m.credentials.On("Verify", ctx, "ana@example.com", "hunter2!").Return(identity, nil)
	m.profiles.On("Get", ctx, identity).Return(profile, nil)
	m.profiles.On("Append", ctx, identity, mock.AnythingOfType("biometric.SampleSummary")).Return(nil)
	m.tokens.On("Issue", ctx, identity).Return(testToken(), nil)
	m.publisher.On("PublishDecision", mock.MatchedBy(func(e DecisionEvent) bool {
		return e.Outcome == "grant" && e.Identity == identity
	})).Return()

	clientRisk := 0.1
	result, err := svc.Login(ctx, LoginInput{
		Email:      "ana@example.com",
		Password:   "hunter2!",
		Features:   &vector,
		ClientRisk: &clientRisk,
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeGrant, result.Outcome)
	assert.Equal(t, identity, result.Identity)
	require.NotNil(t, result.Token)
	assert.Equal(t, "token-abc", result.Token.AccessToken)
	assert.Nil(t, result.Challenge)
	assert.Less(t, result.Risk.FinalScore, 0.3)

	m.profiles.AssertCalled(t, "Append", ctx, identity, mock.AnythingOfType("biometric.SampleSummary"))
	m.publisher.AssertExpectations(t)
}

func TestService_Login_DeniesMismatchedSession(t *testing.T) {
	ctx := context.Background()
	svc, m := newFlow(t)

	identity := uuid.New()
	profile, vector := fixtures.NewBiometricScenarios(t).MismatchedPair()

	m.credentials.On("Verify", ctx, "ana@example.com", "hunter2!").Return(identity, nil)
	m.profiles.On("Get", ctx, identity).Return(profile, nil)
	m.publisher.On("PublishDecision", mock.MatchedBy(func(e DecisionEvent) bool {
		return e.Outcome == "deny"
	})).Return()

	clientRisk := 0.9
	result, err := svc.Login(ctx, LoginInput{
		Email:      "ana@example.com",
		Password:   "hunter2!",
		Features:   &vector,
		ClientRisk: &clientRisk,
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeDeny, result.Outcome)
	assert.Nil(t, result.Token)
	assert.Nil(t, result.Challenge)
	assert.Greater(t, result.Risk.FinalScore, 0.7)

	// Denied sessions never join the baseline.
	m.profiles.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything)
	m.tokens.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything)
}

func TestService_Login_ColdStartTriggersStepUp(t *testing.T) {
	ctx := context.Background()
	svc, m := newFlow(t)

	identity := uuid.New()
	vector := fixtures.NewFeatureVectorBuilder(t).Build()
	view := challenge.PublicView{ID: uuid.New(), Kind: "math", Prompt: "What is 3 + 4?", MaxAttempts: 3}

	m.credentials.On("Verify", ctx, "new@example.com", "hunter2!").Return(identity, nil)
	m.profiles.On("Get", ctx, identity).Return(nil, nil)
	m.profiles.On("Append", ctx, identity, mock.AnythingOfType("biometric.SampleSummary")).Return(nil)
	m.challenger.On("Create", ctx, identity, mock.Anything).Return(view, nil)
	m.publisher.On("PublishDecision", mock.MatchedBy(func(e DecisionEvent) bool {
		return e.Outcome == "step_up" && e.ChallengeID != nil && *e.ChallengeID == view.ID
	})).Return()

	clientRisk := 0.5
	result, err := svc.Login(ctx, LoginInput{
		Email:      "new@example.com",
		Password:   "hunter2!",
		Features:   &vector,
		ClientRisk: &clientRisk,
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeStepUp, result.Outcome)
	assert.Nil(t, result.Token)
	require.NotNil(t, result.Challenge)
	assert.Equal(t, view.ID, result.Challenge.ID)
	assert.InDelta(t, 0.405, result.Risk.FinalScore, 1e-9)
	assert.InDelta(t, 0.3, result.Risk.Confidence, 1e-9)

	// Step-up is non-denied, so the session still joins the baseline.
	m.profiles.AssertCalled(t, "Append", ctx, identity, mock.AnythingOfType("biometric.SampleSummary"))
	m.publisher.AssertExpectations(t)
}

func TestService_Login_ReplaysRawEvents(t *testing.T) {
	ctx := context.Background()
	svc, m := newFlow(t)

	identity := uuid.New()
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	events := []keystroke.Event{
		{Kind: keystroke.KeyDown, Key: "h", At: base},
		{Kind: keystroke.KeyUp, Key: "h", At: base.Add(100 * time.Millisecond)},
		{Kind: keystroke.KeyDown, Key: "i", At: base.Add(150 * time.Millisecond)},
		{Kind: keystroke.KeyUp, Key: "i", At: base.Add(260 * time.Millisecond)},
	}
	view := challenge.PublicView{ID: uuid.New(), Kind: "captcha"}

	m.credentials.On("Verify", ctx, "new@example.com", "hunter2!").Return(identity, nil)
	m.profiles.On("Get", ctx, identity).Return(nil, nil)
	m.profiles.On("Append", ctx, identity, mock.AnythingOfType("biometric.SampleSummary")).Return(nil)
	m.challenger.On("Create", ctx, identity, mock.Anything).Return(view, nil)
	m.publisher.On("PublishDecision", mock.Anything).Return()

	clientRisk := 0.5
	result, err := svc.Login(ctx, LoginInput{
		Email:      "new@example.com",
		Password:   "hunter2!",
		Events:     events,
		ClientRisk: &clientRisk,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStepUp, result.Outcome)
}

func TestService_Login_ConsultsScorerWhenClientRiskAbsent(t *testing.T) {
	ctx := context.Background()
	svc, m := newFlow(t)

	identity := uuid.New()
	vector := fixtures.NewFeatureVectorBuilder(t).Build()
	view := challenge.PublicView{ID: uuid.New()}

	m.credentials.On("Verify", ctx, "new@example.com", "hunter2!").Return(identity, nil)
	m.scorer.On("Score", vector).Return(localrisk.Estimate{RiskScore: 0.9, Confidence: 0.8})
	m.profiles.On("Get", ctx, identity).Return(nil, nil)
	m.profiles.On("Append", ctx, identity, mock.AnythingOfType("biometric.SampleSummary")).Return(nil)
	m.challenger.On("Create", ctx, identity, mock.Anything).Return(view, nil)
	m.publisher.On("PublishDecision", mock.Anything).Return()

	result, err := svc.Login(ctx, LoginInput{
		Email:    "new@example.com",
		Password: "hunter2!",
		Features: &vector,
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.9, result.Risk.Factors.Client, 1e-9)
	assert.InDelta(t, 0.445, result.Risk.FinalScore, 1e-9)
	m.scorer.AssertCalled(t, "Score", vector)
}

func TestService_Login_RequestScoreBypassesScorer(t *testing.T) {
	ctx := context.Background()
	svc, m := newFlow(t)

	identity := uuid.New()
	vector := fixtures.NewFeatureVectorBuilder(t).Build()

	m.credentials.On("Verify", ctx, "new@example.com", "hunter2!").Return(identity, nil)
	m.profiles.On("Get", ctx, identity).Return(nil, nil)
	m.profiles.On("Append", ctx, identity, mock.AnythingOfType("biometric.SampleSummary")).Return(nil)
	m.challenger.On("Create", ctx, identity, mock.Anything).Return(challenge.PublicView{ID: uuid.New()}, nil)
	m.publisher.On("PublishDecision", mock.Anything).Return()

	clientRisk := 0.2
	_, err := svc.Login(ctx, LoginInput{
		Email:      "new@example.com",
		Password:   "hunter2!",
		Features:   &vector,
		ClientRisk: &clientRisk,
	})
	require.NoError(t, err)

	m.scorer.AssertNotCalled(t, "Score", mock.Anything)
}

func TestService_Login_NotReadyEstimatorYieldsNeutralClientFactor(t *testing.T) {
	ctx := context.Background()
	m := &flowMocks{
		credentials: &mockCredentials{},
		tokens:      &mockTokens{},
		profiles:    &mockProfiles{},
		challenger:  &mockChallenger{},
		publisher:   &mockPublisher{},
	}
	// A real estimator with no model loaded: its neutral 0.5 flows into the
	// client factor unchanged.
	svc := NewService(
		m.credentials,
		m.tokens,
		m.profiles,
		m.challenger,
		localrisk.NewEstimator(nil),
		riskfusion.NewEngine(nil),
		m.publisher,
		nil,
	)

	identity := uuid.New()
	vector := fixtures.NewFeatureVectorBuilder(t).Build()

	m.credentials.On("Verify", ctx, "new@example.com", "hunter2!").Return(identity, nil)
	m.profiles.On("Get", ctx, identity).Return(nil, nil)
	m.profiles.On("Append", ctx, identity, mock.AnythingOfType("biometric.SampleSummary")).Return(nil)
	m.challenger.On("Create", ctx, identity, mock.Anything).Return(challenge.PublicView{ID: uuid.New()}, nil)
	m.publisher.On("PublishDecision", mock.Anything).Return()

	result, err := svc.Login(ctx, LoginInput{
		Email:    "new@example.com",
		Password: "hunter2!",
		Features: &vector,
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.5, result.Risk.Factors.Client, 1e-9)
	assert.InDelta(t, 0.405, result.Risk.FinalScore, 1e-9)
}

func TestService_Login_RejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	svc, m := newFlow(t)

	m.credentials.On("Verify", ctx, "ana@example.com", "wrong").
		Return(uuid.Nil, errors.ErrInvalidCredentials)

	vector := fixtures.NewFeatureVectorBuilder(t).Build()
	result, err := svc.Login(ctx, LoginInput{
		Email:    "ana@example.com",
		Password: "wrong",
		Features: &vector,
	})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnauthorized))

	m.profiles.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestService_Login_ValidatesTelemetry(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		input        func() LoginInput
		expectedCode string
	}{
		{
			name: "missing features and events",
			input: func() LoginInput {
				return LoginInput{Email: "a@b.com", Password: "pw"}
			},
			expectedCode: "MISSING_TELEMETRY",
		},
		{
			name: "empty session",
			input: func() LoginInput {
				return LoginInput{Email: "a@b.com", Password: "pw", Features: &biometric.FeatureVector{}}
			},
			expectedCode: "EMPTY_TELEMETRY",
		},
		{
			name: "malformed vector",
			input: func() LoginInput {
				return LoginInput{
					Email:    "a@b.com",
					Password: "pw",
					Features: &biometric.FeatureVector{KeystrokeCount: -1},
				}
			},
			expectedCode: "INVALID_TELEMETRY",
		},
		{
			name: "client risk out of range",
			input: func() LoginInput {
				v := fixtures.NewFeatureVectorBuilder(t).Build()
				bad := 1.5
				return LoginInput{Email: "a@b.com", Password: "pw", Features: &v, ClientRisk: &bad}
			},
			expectedCode: "INVALID_CLIENT_RISK",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, m := newFlow(t)
			m.credentials.On("Verify", ctx, "a@b.com", "pw").Return(uuid.New(), nil)

			_, err := svc.Login(ctx, tt.input())
			require.Error(t, err)

			var appErr *errors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.expectedCode, appErr.Code)

			m.profiles.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
		})
	}
}

func TestService_Login_StorageFailureFailsClosed(t *testing.T) {
	ctx := context.Background()
	svc, m := newFlow(t)

	identity := uuid.New()
	vector := fixtures.NewFeatureVectorBuilder(t).Build()

	m.credentials.On("Verify", ctx, "ana@example.com", "hunter2!").Return(identity, nil)
	m.profiles.On("Get", ctx, identity).Return(nil, errors.NewInternalError("connection refused"))
	m.publisher.On("PublishDecision", mock.MatchedBy(func(e DecisionEvent) bool {
		return e.Outcome == "deny"
	})).Return()

	clientRisk := 0.1
	result, err := svc.Login(ctx, LoginInput{
		Email:      "ana@example.com",
		Password:   "hunter2!",
		Features:   &vector,
		ClientRisk: &clientRisk,
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeDeny, result.Outcome)
	assert.InDelta(t, 0.8, result.Risk.FinalScore, 1e-9)
	assert.Zero(t, result.Risk.Confidence)

	m.tokens.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything)
	m.profiles.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Login_AppendFailureDoesNotBlockGrant(t *testing.T) {
	ctx := context.Background()
	svc, m := newFlow(t)

	identity := uuid.New()
	profile, vector := fixtures.NewBiometricScenarios(t).MatchedPair()

	m.credentials.On("Verify", ctx, "ana@example.com", "hunter2!").Return(identity, nil)
	m.profiles.On("Get", ctx, identity).Return(profile, nil)
	m.profiles.On("Append", ctx, identity, mock.AnythingOfType("biometric.SampleSummary")).
		Return(errors.NewInternalError("write timeout"))
	m.tokens.On("Issue", ctx, identity).Return(testToken(), nil)
	m.publisher.On("PublishDecision", mock.Anything).Return()

	clientRisk := 0.1
	result, err := svc.Login(ctx, LoginInput{
		Email:      "ana@example.com",
		Password:   "hunter2!",
		Features:   &vector,
		ClientRisk: &clientRisk,
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeGrant, result.Outcome)
	require.NotNil(t, result.Token)
}

func TestService_Login_TokenFailurePropagates(t *testing.T) {
	ctx := context.Background()
	svc, m := newFlow(t)

	identity := uuid.New()
	profile, vector := fixtures.NewBiometricScenarios(t).MatchedPair()

	m.credentials.On("Verify", ctx, "ana@example.com", "hunter2!").Return(identity, nil)
	m.profiles.On("Get", ctx, identity).Return(profile, nil)
	m.profiles.On("Append", ctx, identity, mock.AnythingOfType("biometric.SampleSummary")).Return(nil)
	m.tokens.On("Issue", ctx, identity).Return(Token{}, errors.NewInternalError("signer unavailable"))

	clientRisk := 0.1
	_, err := svc.Login(ctx, LoginInput{
		Email:      "ana@example.com",
		Password:   "hunter2!",
		Features:   &vector,
		ClientRisk: &clientRisk,
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
}

func TestService_CompleteChallenge(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted solution issues token", func(t *testing.T) {
		svc, m := newFlow(t)
		owner := uuid.New()
		id := uuid.New()

		m.challenger.On("Verify", ctx, id, "42").Return(challenge.Accepted(owner, 2))
		m.tokens.On("Issue", ctx, owner).Return(testToken(), nil)

		result, err := svc.CompleteChallenge(ctx, ChallengeInput{ChallengeID: id, Solution: "42"})
		require.NoError(t, err)

		assert.Equal(t, challenge.VerifyAccepted, result.Verification.Status)
		require.NotNil(t, result.Token)
		assert.Equal(t, "token-abc", result.Token.AccessToken)
	})

	t.Run("retry carries no token", func(t *testing.T) {
		svc, m := newFlow(t)
		id := uuid.New()

		m.challenger.On("Verify", ctx, id, "nope").Return(challenge.Retry(2))

		result, err := svc.CompleteChallenge(ctx, ChallengeInput{ChallengeID: id, Solution: "nope"})
		require.NoError(t, err)

		assert.Equal(t, challenge.VerifyRetry, result.Verification.Status)
		assert.Equal(t, 2, result.Verification.AttemptsRemaining)
		assert.Nil(t, result.Token)
		m.tokens.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything)
	})

	t.Run("rejected challenge carries no token", func(t *testing.T) {
		svc, m := newFlow(t)
		id := uuid.New()

		m.challenger.On("Verify", ctx, id, "42").Return(challenge.Rejected(challenge.ReasonExpired))

		result, err := svc.CompleteChallenge(ctx, ChallengeInput{ChallengeID: id, Solution: "42"})
		require.NoError(t, err)

		assert.Equal(t, challenge.VerifyRejected, result.Verification.Status)
		assert.Equal(t, challenge.ReasonExpired, result.Verification.Reason)
		assert.Nil(t, result.Token)
	})

	t.Run("nil challenge id is rejected", func(t *testing.T) {
		svc, _ := newFlow(t)

		_, err := svc.CompleteChallenge(ctx, ChallengeInput{Solution: "42"})
		require.Error(t, err)

		var appErr *errors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "MISSING_CHALLENGE_ID", appErr.Code)
	})

	t.Run("token failure propagates", func(t *testing.T) {
		svc, m := newFlow(t)
		owner := uuid.New()
		id := uuid.New()

		m.challenger.On("Verify", ctx, id, "42").Return(challenge.Accepted(owner, 1))
		m.tokens.On("Issue", ctx, owner).Return(Token{}, errors.NewInternalError("signer unavailable"))

		_, err := svc.CompleteChallenge(ctx, ChallengeInput{ChallengeID: id, Solution: "42"})
		require.Error(t, err)
	})
}

func TestService_Login_ChallengeCreationFailurePropagates(t *testing.T) {
	ctx := context.Background()
	svc, m := newFlow(t)

	identity := uuid.New()
	vector := fixtures.NewFeatureVectorBuilder(t).Build()

	m.credentials.On("Verify", ctx, "new@example.com", "hunter2!").Return(identity, nil)
	m.profiles.On("Get", ctx, identity).Return(nil, nil)
	m.profiles.On("Append", ctx, identity, mock.AnythingOfType("biometric.SampleSummary")).Return(nil)
	m.challenger.On("Create", ctx, identity, mock.Anything).
		Return(challenge.PublicView{}, errors.NewInternalError("store full"))

	clientRisk := 0.5
	_, err := svc.Login(ctx, LoginInput{
		Email:      "new@example.com",
		Password:   "hunter2!",
		Features:   &vector,
		ClientRisk: &clientRisk,
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
}

// --- mocks ---

type mockCredentials struct {
	mock.Mock
}

func (m *mockCredentials) Verify(ctx context.Context, email, password string) (uuid.UUID, error) {
	args := m.Called(ctx, email, password)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

type mockTokens struct {
	mock.Mock
}

func (m *mockTokens) Issue(ctx context.Context, identity uuid.UUID) (Token, error) {
	args := m.Called(ctx, identity)
	return args.Get(0).(Token), args.Error(1)
}

type mockProfiles struct {
	mock.Mock
}

func (m *mockProfiles) Get(ctx context.Context, identity uuid.UUID) (*biometric.Profile, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*biometric.Profile), args.Error(1)
}

func (m *mockProfiles) Append(ctx context.Context, identity uuid.UUID, sample biometric.SampleSummary) error {
	args := m.Called(ctx, identity, sample)
	return args.Error(0)
}

type mockChallenger struct {
	mock.Mock
}

func (m *mockChallenger) Create(ctx context.Context, owner uuid.UUID, kinds ...challenge.Kind) (challenge.PublicView, error) {
	args := m.Called(ctx, owner, kinds)
	return args.Get(0).(challenge.PublicView), args.Error(1)
}

func (m *mockChallenger) Verify(ctx context.Context, id uuid.UUID, solution string) challenge.VerifyResult {
	args := m.Called(ctx, id, solution)
	return args.Get(0).(challenge.VerifyResult)
}

type mockScorer struct {
	mock.Mock
}

func (m *mockScorer) Score(v biometric.FeatureVector) localrisk.Estimate {
	args := m.Called(v)
	return args.Get(0).(localrisk.Estimate)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishDecision(event DecisionEvent) {
	m.Called(event)
}
