package devin

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/justapithecus/mender/types"
)

// Stage timing bounds for the simulated remediation lifecycle. Durations
// are drawn uniformly per session so waves finish at staggered times.
var mockStages = []struct {
	name     string
	minDur   time.Duration
	maxDur   time.Duration
	startPct int
	endPct   int
}{
	{"analyzing", 5 * time.Second, 10 * time.Second, 0, 25},
	{"fixing", 10 * time.Second, 20 * time.Second, 25, 60},
	{"testing", 8 * time.Second, 15 * time.Second, 60, 85},
	{"creating_pr", 3 * time.Second, 8 * time.Second, 85, 95},
}

// failureRate is the fraction of mock sessions that get stuck in testing
// and end blocked.
const failureRate = 0.15

var mockFixApproaches = map[types.FindingCategory]string{
	types.CategorySQLInjection:            "Replaced string-concatenated query with parameterized PreparedStatement",
	types.CategoryXSS:                     "Applied context-aware output encoding and enabled template auto-escaping",
	types.CategoryHardcodedSecret:         "Moved credential to environment-injected secret and rotated the exposed value",
	types.CategoryDependencyVulnerability: "Upgraded vulnerable dependency to the patched release and ran the test suite",
	types.CategoryPathTraversal:           "Normalized and validated user-supplied paths against an allowlisted base directory",
	types.CategoryMissingEncryption:       "Migrated password hashing to bcrypt with per-record salts",
	types.CategoryPIILogging:              "Masked sensitive fields in logs behind a redaction filter",
	types.CategoryAccessLogging:           "Added audit logging with server-side ownership checks",
	types.CategoryOther:                   "Applied targeted fix for the reported issue",
}

var mockFileTemplates = map[types.FindingCategory][]string{
	types.CategorySQLInjection:            {"src/main/java/repository/%sRepository.java", "src/test/java/repository/%sRepositoryTest.java"},
	types.CategoryXSS:                     {"src/main/resources/templates/%s.html", "src/main/java/controller/%sController.java"},
	types.CategoryHardcodedSecret:         {"src/main/resources/application.yml", "deploy/%s-secrets.yaml"},
	types.CategoryDependencyVulnerability: {"pom.xml"},
	types.CategoryPathTraversal:           {"src/main/java/service/%sFileService.java"},
	types.CategoryMissingEncryption:       {"src/main/java/security/%sPasswordEncoder.java"},
	types.CategoryPIILogging:              {"src/main/java/logging/%sLogSanitizer.java"},
	types.CategoryAccessLogging:           {"src/main/java/controller/%sController.java"},
}

type mockSession struct {
	id         string
	prompt     string
	tags       []string
	createdAt  time.Time
	durations  []time.Duration
	willFail   bool
	terminated bool

	findingID string
	service   string
	category  types.FindingCategory
	prNumber  int
}

// MockClient simulates the remote agent API in-process. Sessions progress
// through realistic stages on the wall clock; a fixed fraction fail in
// testing. Safe for concurrent use.
type MockClient struct {
	mu        sync.Mutex
	rng       *rand.Rand
	sessions  map[string]*mockSession
	order     []string
	playbooks []Playbook
	prCounter int

	now func() time.Time // test seam
}

var _ Client = (*MockClient)(nil)

// NewMockClient creates a simulator. A fixed seed makes demo runs and tests
// reproducible.
func NewMockClient(seed int64) *MockClient {
	return &MockClient{
		rng:      rand.New(rand.NewSource(seed)),
		sessions: make(map[string]*mockSession),
		now:      time.Now,
	}
}

// CreateSession starts a simulated session. With Idempotent set, an
// existing session with the same prompt is returned instead of a new one.
func (m *MockClient) CreateSession(_ context.Context, req CreateSessionRequest) (*CreateSessionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if req.Idempotent {
		for _, id := range m.order {
			if s := m.sessions[id]; s.prompt == req.Prompt {
				return &CreateSessionResponse{
					SessionID:    s.id,
					URL:          mockSessionURL(s.id),
					IsNewSession: false,
				}, nil
			}
		}
	}

	durations := make([]time.Duration, len(mockStages))
	for i, st := range mockStages {
		spread := st.maxDur - st.minDur
		durations[i] = st.minDur + time.Duration(m.rng.Int63n(int64(spread)+1))
	}

	m.prCounter++
	s := &mockSession{
		id:        "mock-" + uuid.NewString()[:8],
		prompt:    req.Prompt,
		tags:      req.Tags,
		createdAt: m.now(),
		durations: durations,
		willFail:  m.rng.Float64() < failureRate,
		findingID: promptField(req.Prompt, "Finding ID"),
		service:   promptField(req.Prompt, "Service"),
		category:  types.FindingCategory(promptField(req.Prompt, "Category")),
		prNumber:  m.prCounter,
	}
	m.sessions[s.id] = s
	m.order = append(m.order, s.id)

	return &CreateSessionResponse{
		SessionID:    s.id,
		URL:          mockSessionURL(s.id),
		IsNewSession: true,
	}, nil
}

// GetSession reports the session's simulated state for the current instant.
func (m *MockClient) GetSession(_ context.Context, sessionID string) (*SessionDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, &APIError{Status: 404, Message: "session not found: " + sessionID}
	}
	return m.detailLocked(s), nil
}

func (m *MockClient) detailLocked(s *mockSession) *SessionDetail {
	out := &types.StructuredOutput{
		FindingID: s.findingID,
	}
	detail := &SessionDetail{
		SessionID:        s.id,
		Tags:             s.tags,
		StructuredOutput: out,
	}

	if s.terminated {
		detail.StatusEnum = RemoteBlocked
		out.Status = "failed"
		out.ErrorMessage = "Session terminated by user"
		return detail
	}

	elapsed := m.now().Sub(s.createdAt)
	var cum time.Duration
	for i, st := range mockStages {
		cum += s.durations[i]
		// Failing sessions block the moment they reach testing, however
		// far into the stage window the poll lands.
		if s.willFail && st.name == "testing" {
			detail.StatusEnum = RemoteBlocked
			out.Status = "failed"
			out.ProgressPct = 70
			out.CurrentStep = "Running test suite"
			out.ErrorMessage = "Tests failed: existing tests broke after applying fix"
			out.FixApproach = mockFixApproaches[s.category]
			falseVal := false
			out.TestsPassed = &falseVal
			return detail
		}
		if elapsed < cum {
			frac := 1 - float64(cum-elapsed)/float64(s.durations[i])
			out.Status = st.name
			out.ProgressPct = st.startPct + int(frac*float64(st.endPct-st.startPct))
			out.CurrentStep = mockStepLabel(st.name, s)
			detail.StatusEnum = RemoteWorking
			return detail
		}
	}

	// All stages complete: session finished with a PR.
	detail.StatusEnum = RemoteFinished
	out.Status = "completed"
	out.ProgressPct = 100
	out.CurrentStep = "Pull request created"
	out.FixApproach = mockFixApproaches[s.category]
	out.FilesModified = mockFiles(s)
	trueVal := true
	out.TestsPassed = &trueVal
	out.TestsAdded = 2
	out.Confidence = "high"
	out.PRURL = fmt.Sprintf("https://github.com/coupang-demo/%s/pull/%d", s.service, s.prNumber)
	detail.PullRequest = &PullRequest{URL: out.PRURL}
	return detail
}

// ListSessions returns sessions matching all given tags, newest first.
func (m *MockClient) ListSessions(_ context.Context, tags []string, limit, offset int) ([]SessionDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]SessionDetail, 0)
	for i := len(m.order) - 1; i >= 0; i-- {
		s := m.sessions[m.order[i]]
		if !hasAllTags(s.tags, tags) {
			continue
		}
		matched = append(matched, *m.detailLocked(s))
	}

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// SendMessage is accepted and ignored by the simulator.
func (m *MockClient) SendMessage(_ context.Context, sessionID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return &APIError{Status: 404, Message: "session not found: " + sessionID}
	}
	return nil
}

// TerminateSession moves the session to a blocked terminal state.
func (m *MockClient) TerminateSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return &APIError{Status: 404, Message: "session not found: " + sessionID}
	}
	s.terminated = true
	return nil
}

// TerminateSessionBestEffort terminates, treating unknown sessions as gone.
func (m *MockClient) TerminateSessionBestEffort(ctx context.Context, sessionID string) bool {
	_ = m.TerminateSession(ctx, sessionID)
	return true
}

// CreatePlaybook registers a playbook in the simulator.
func (m *MockClient) CreatePlaybook(_ context.Context, title, _ string) (*Playbook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pb := Playbook{
		PlaybookID: "playbook-" + uuid.NewString()[:8],
		Title:      title,
	}
	m.playbooks = append(m.playbooks, pb)
	return &pb, nil
}

// ListPlaybooks lists registered playbooks.
func (m *MockClient) ListPlaybooks(_ context.Context) ([]Playbook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Playbook, len(m.playbooks))
	copy(out, m.playbooks)
	return out, nil
}

// ResetCircuitBreaker is a no-op; the simulator has no breaker.
func (m *MockClient) ResetCircuitBreaker() {}

// Close is a no-op.
func (m *MockClient) Close() error { return nil }

func mockSessionURL(id string) string {
	return "https://app.devin.ai/sessions/" + id
}

func mockStepLabel(stage string, s *mockSession) string {
	switch stage {
	case "analyzing":
		return fmt.Sprintf("Analyzing %s in %s", s.category, s.service)
	case "fixing":
		return "Applying fix to affected files"
	case "testing":
		return "Running test suite"
	case "creating_pr":
		return "Opening pull request"
	}
	return stage
}

func mockFiles(s *mockSession) []string {
	templates, ok := mockFileTemplates[s.category]
	if !ok {
		return []string{"src/main/java/Application.java"}
	}
	svc := pascalCase(s.service)
	files := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		if strings.Contains(tmpl, "%s") {
			files = append(files, fmt.Sprintf(tmpl, svc))
		} else {
			files = append(files, tmpl)
		}
	}
	return files
}

// pascalCase turns "payment-service" into "PaymentService".
func pascalCase(name string) string {
	var b strings.Builder
	for _, part := range strings.Split(name, "-") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

// promptField extracts a "Key: value" line from a dispatch prompt.
func promptField(prompt, key string) string {
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if rest, ok := strings.CutPrefix(line, key+":"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
