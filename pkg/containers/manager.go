// Package containers implements the Container Manager:
// spawning, killing, and listing Minion containers, and merging the fixed
// environment contract into each one, using the
// github.com/docker/docker/client package directly against the Docker
// Engine API for the container create/start/kill/logs surface.
package containers

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	managedLabel          = "overlord.managed"
	minionIDLabel         = "overlord.minion_id"
	defaultMinionTimeout  = 1800 * time.Second
	defaultKillGrace      = 10 * time.Second
	defaultWorkspacePerms = 0o755
)

// Config configures a Manager.
type Config struct {
	// ImageName is the Minion container image reference.
	ImageName string

	// WorkspaceBaseDir is the host directory under which each spawned
	// Minion gets a fresh ephemeral subdirectory, bind-mounted at
	// /workspace inside the container.
	WorkspaceBaseDir string

	// KillGrace is how long to wait after SIGTERM before SIGKILL.
	KillGrace time.Duration

	// Stub disables all Docker Engine calls; spawn/kill/list/logs are
	// recorded in memory instead, for tests and dry-run.
	Stub bool
}

// SpawnRequest describes one Minion to spawn.
type SpawnRequest struct {
	Repo          string
	IssueNumber   int
	MinionID      string // generated if empty
	ScopeJSON     []byte
	GitHubToken   string
	CallbackURL   string
	Timeout       time.Duration
	LLMProviderEnv map[string]string // LLM connection parameters merged verbatim

	// RevisionNumber and RevisionFeedback carry an Evaluator-emitted
	// RevisionRequest into the Minion's initial system
	// message; RevisionNumber == 0 for a fresh (non-revision) dispatch.
	RevisionNumber   int
	RevisionFeedback string
}

// MinionContainer describes one running or exited Minion container.
type MinionContainer struct {
	MinionID string
	DockerID string
	State    string
	Status   string
}

// Manager spawns, kills, and lists Minion containers via the Docker Engine
// API, or records the same calls in memory when Stub is set.
type Manager struct {
	cfg    Config
	docker *client.Client
	logger *slog.Logger

	mu    sync.Mutex
	stubs map[string]*stubRecord
}

type stubRecord struct {
	req     SpawnRequest
	env     []string
	killed  bool
	removed bool
}

// New builds a Manager. When cfg.Stub is false, dockerCli must be a live
// Docker Engine client (e.g. from client.NewClientWithOpts(client.FromEnv)).
func New(cfg Config, dockerCli *client.Client) *Manager {
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = defaultKillGrace
	}
	m := &Manager{cfg: cfg, docker: dockerCli, logger: slog.Default().With("component", "containers")}
	if cfg.Stub {
		m.stubs = make(map[string]*stubRecord)
	}
	return m
}

// SpawnMinion constructs the Minion environment, mounts a fresh ephemeral
// workspace, and starts a container from the configured image, returning
// the chosen Minion id.
func (m *Manager) SpawnMinion(ctx context.Context, req SpawnRequest) (string, error) {
	if req.MinionID == "" {
		id, err := randomMinionID()
		if err != nil {
			return "", fmt.Errorf("containers: spawn minion: generate id: %w", err)
		}
		req.MinionID = id
	}
	if req.Timeout <= 0 {
		req.Timeout = defaultMinionTimeout
	}
	if req.CallbackURL == "" || req.GitHubToken == "" || req.Repo == "" {
		return "", fmt.Errorf("containers: spawn minion %s: missing required field", req.MinionID)
	}

	workspace := filepath.Join(m.cfg.WorkspaceBaseDir, req.MinionID)
	if err := os.MkdirAll(workspace, defaultWorkspacePerms); err != nil {
		return "", fmt.Errorf("containers: spawn minion %s: create workspace: %w", req.MinionID, err)
	}

	env := buildEnv(req)

	if m.cfg.Stub {
		m.mu.Lock()
		m.stubs[req.MinionID] = &stubRecord{req: req, env: env}
		m.mu.Unlock()
		m.logger.Info("stub spawn", "minion_id", req.MinionID, "repo", req.Repo, "issue", req.IssueNumber)
		return req.MinionID, nil
	}

	labels := map[string]string{managedLabel: "true", minionIDLabel: req.MinionID}
	created, err := m.docker.ContainerCreate(ctx,
		&container.Config{
			Image:  m.cfg.ImageName,
			Env:    env,
			Labels: labels,
		},
		&container.HostConfig{
			Mounts: []mount.Mount{{Type: mount.TypeBind, Source: workspace, Target: "/workspace"}},
		},
		nil, nil, "minion-"+req.MinionID,
	)
	if err != nil {
		return "", fmt.Errorf("containers: spawn minion %s: create: %w", req.MinionID, err)
	}

	if err := m.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("containers: spawn minion %s: start: %w", req.MinionID, err)
	}

	m.logger.Info("spawned minion container", "minion_id", req.MinionID, "container_id", created.ID, "repo", req.Repo, "issue", req.IssueNumber)
	return req.MinionID, nil
}

func buildEnv(req SpawnRequest) []string {
	env := []string{
		"MINION_ID=" + req.MinionID,
		"GITHUB_REPO=" + req.Repo,
		"GITHUB_ISSUE=" + strconv.Itoa(req.IssueNumber),
		"GITHUB_TOKEN=" + req.GitHubToken,
		"OVERLORD_CALLBACK_URL=" + req.CallbackURL,
		"MINION_TIMEOUT=" + strconv.Itoa(int(req.Timeout.Seconds())),
	}
	if len(req.ScopeJSON) > 0 {
		env = append(env, "MINION_SCOPE="+string(req.ScopeJSON))
	}
	if req.RevisionNumber > 0 {
		env = append(env, "MINION_REVISION_NUMBER="+strconv.Itoa(req.RevisionNumber))
		env = append(env, "MINION_REVISION_FEEDBACK="+req.RevisionFeedback)
	}
	for k, v := range req.LLMProviderEnv {
		env = append(env, k+"="+v)
	}
	return env
}

func randomMinionID() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "minion-" + hex.EncodeToString(buf), nil
}

// KillMinion sends SIGTERM, waits KillGrace, then SIGKILL+remove if the
// container hasn't exited. Reports
// false if no such Minion is tracked.
func (m *Manager) KillMinion(ctx context.Context, minionID string) (bool, error) {
	if m.cfg.Stub {
		m.mu.Lock()
		defer m.mu.Unlock()
		rec, ok := m.stubs[minionID]
		if !ok {
			return false, nil
		}
		rec.killed = true
		return true, nil
	}

	dockerID, err := m.resolveDockerID(ctx, minionID)
	if err != nil {
		return false, err
	}
	if dockerID == "" {
		return false, nil
	}

	if err := m.docker.ContainerStop(ctx, dockerID, container.StopOptions{Timeout: graceSeconds(m.cfg.KillGrace)}); err != nil {
		return false, fmt.Errorf("containers: kill minion %s: stop: %w", minionID, err)
	}
	if err := m.docker.ContainerRemove(ctx, dockerID, container.RemoveOptions{Force: true}); err != nil {
		return false, fmt.Errorf("containers: kill minion %s: remove: %w", minionID, err)
	}
	return true, nil
}

func graceSeconds(d time.Duration) *int {
	s := int(d.Seconds())
	return &s
}

// ListMinions returns every container this Manager is tracking or has
// created.
func (m *Manager) ListMinions(ctx context.Context) ([]MinionContainer, error) {
	if m.cfg.Stub {
		m.mu.Lock()
		defer m.mu.Unlock()
		out := make([]MinionContainer, 0, len(m.stubs))
		for id, rec := range m.stubs {
			state := "running"
			if rec.killed {
				state = "exited"
			}
			out = append(out, MinionContainer{MinionID: id, DockerID: "stub-" + id, State: state})
		}
		return out, nil
	}

	filterArgs := filters.NewArgs(filters.Arg("label", managedLabel+"=true"))
	containers, err := m.docker.ContainerList(ctx, container.ListOptions{All: true, Filters: filterArgs})
	if err != nil {
		return nil, fmt.Errorf("containers: list minions: %w", err)
	}

	out := make([]MinionContainer, 0, len(containers))
	for _, c := range containers {
		out = append(out, MinionContainer{
			MinionID: c.Labels[minionIDLabel],
			DockerID: c.ID,
			State:    c.State,
			Status:   c.Status,
		})
	}
	return out, nil
}

// GetMinionLogs returns the combined stdout/stderr tail of a Minion's
// container. tail<=0 returns the full log.
func (m *Manager) GetMinionLogs(ctx context.Context, minionID string, tail int) (string, error) {
	if m.cfg.Stub {
		m.mu.Lock()
		_, ok := m.stubs[minionID]
		m.mu.Unlock()
		if !ok {
			return "", fmt.Errorf("containers: get minion logs %s: no such minion", minionID)
		}
		return "", nil
	}

	dockerID, err := m.resolveDockerID(ctx, minionID)
	if err != nil {
		return "", err
	}
	if dockerID == "" {
		return "", fmt.Errorf("containers: get minion logs %s: no such minion", minionID)
	}

	opts := container.LogsOptions{ShowStdout: true, ShowStderr: true}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}
	reader, err := m.docker.ContainerLogs(ctx, dockerID, opts)
	if err != nil {
		return "", fmt.Errorf("containers: get minion logs %s: %w", minionID, err)
	}
	defer reader.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil && err != io.EOF {
		return "", fmt.Errorf("containers: get minion logs %s: demux: %w", minionID, err)
	}
	return stdout.String() + stderr.String(), nil
}

// CleanupDeadContainers removes every managed container in an exited or
// dead state and returns the count removed.
func (m *Manager) CleanupDeadContainers(ctx context.Context) (int, error) {
	if m.cfg.Stub {
		m.mu.Lock()
		defer m.mu.Unlock()
		n := 0
		for id, rec := range m.stubs {
			if rec.killed {
				delete(m.stubs, id)
				n++
			}
		}
		return n, nil
	}

	filterArgs := filters.NewArgs(
		filters.Arg("label", managedLabel+"=true"),
		filters.Arg("status", "exited"),
		filters.Arg("status", "dead"),
	)
	dead, err := m.docker.ContainerList(ctx, container.ListOptions{All: true, Filters: filterArgs})
	if err != nil {
		return 0, fmt.Errorf("containers: cleanup dead containers: list: %w", err)
	}

	removed := 0
	for _, c := range dead {
		if err := m.docker.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			m.logger.Warn("failed to remove dead container", "container_id", c.ID, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (m *Manager) resolveDockerID(ctx context.Context, minionID string) (string, error) {
	filterArgs := filters.NewArgs(filters.Arg("label", minionIDLabel+"="+minionID))
	matches, err := m.docker.ContainerList(ctx, container.ListOptions{All: true, Filters: filterArgs})
	if err != nil {
		return "", fmt.Errorf("containers: resolve %s: %w", minionID, err)
	}
	if len(matches) == 0 {
		return "", nil
	}
	return matches[0].ID, nil
}
