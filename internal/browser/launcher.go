package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/dgnsrekt/flowrec/internal/poll"
)

const (
	cdpReadyTimeout  = 15 * time.Second
	cdpReadyInterval = 250 * time.Millisecond
	stopGrace        = 5 * time.Second
	closeTimeout     = 2 * time.Second
)

// LaunchConfig describes the Chrome the recorder starts when none is
// listening on the CDP port yet.
type LaunchConfig struct {
	CDPAddress string
	CDPPort    int
	StartURL   string
	ProfileDir string
	BinaryPath string
	WindowSize string
}

// CDPURL is the HTTP base of the DevTools endpoint.
func (c LaunchConfig) CDPURL() string {
	return "http://" + net.JoinHostPort(c.CDPAddress, strconv.Itoa(c.CDPPort))
}

// Launcher manages the lifecycle of a browser process.
type Launcher struct {
	cfg     LaunchConfig
	cmd     *exec.Cmd
	running bool
}

func NewLauncher(cfg LaunchConfig) *Launcher {
	if cfg.WindowSize == "" {
		cfg.WindowSize = "1280,900"
	}
	if cfg.StartURL == "" {
		cfg.StartURL = "about:blank"
	}
	return &Launcher{cfg: cfg}
}

// detectBrowser finds an available Chrome/Chromium binary.
func detectBrowser(override string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("browser binary %q: %w", override, err)
		}
		return override, nil
	}
	candidates := []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath, nil
		}
	}
	return "", errors.New("no supported browser found (tried chromium-browser, chromium, google-chrome)")
}

func isPortInUse(address string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(address, strconv.Itoa(port)), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (l *Launcher) args() []string {
	return []string{
		fmt.Sprintf("--remote-debugging-port=%d", l.cfg.CDPPort),
		fmt.Sprintf("--remote-debugging-address=%s", l.cfg.CDPAddress),
		fmt.Sprintf("--user-data-dir=%s", l.cfg.ProfileDir),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-dev-shm-usage",
		"--disable-breakpad",
		fmt.Sprintf("--window-size=%s", l.cfg.WindowSize),
		l.cfg.StartURL,
	}
}

// Launch starts the browser unless something already listens on the CDP
// port, then waits for the DevTools endpoint.
func (l *Launcher) Launch(ctx context.Context) error {
	if isPortInUse(l.cfg.CDPAddress, l.cfg.CDPPort) {
		slog.Info("browser already running, skipping launch",
			"address", l.cfg.CDPAddress, "port", l.cfg.CDPPort)
		return nil
	}

	browserPath, err := detectBrowser(l.cfg.BinaryPath)
	if err != nil {
		return err
	}
	slog.Info("detected browser", "path", browserPath)

	if err := os.MkdirAll(l.cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	l.cmd = exec.Command(browserPath, l.args()...)
	l.cmd.Stdout = os.Stdout
	l.cmd.Stderr = os.Stderr
	if err := l.cmd.Start(); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	l.running = true
	slog.Info("browser process started", "pid", l.cmd.Process.Pid)

	if err := waitForCDP(ctx, l.cfg.CDPURL()); err != nil {
		l.Stop()
		return fmt.Errorf("waiting for CDP: %w", err)
	}
	slog.Info("CDP endpoint ready", "cdp_url", l.cfg.CDPURL())
	return nil
}

// waitForCDP polls /json/version until it answers 200.
func waitForCDP(ctx context.Context, base string) error {
	url := base + "/json/version"
	client := &http.Client{Timeout: time.Second}
	err := poll.Until(ctx, cdpReadyInterval, cdpReadyTimeout, func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return false, nil
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK, nil
	})
	if errors.Is(err, poll.ErrTimeout) {
		return fmt.Errorf("CDP did not become ready within %s at %s", cdpReadyTimeout, url)
	}
	return err
}

// Running reports whether this launcher spawned a browser process.
func (l *Launcher) Running() bool {
	return l.running
}

// Stop terminates the browser process with SIGTERM, falling back to SIGKILL.
// A browser the launcher did not start is left alone.
func (l *Launcher) Stop() {
	if l.cmd == nil || l.cmd.Process == nil {
		return
	}
	slog.Info("stopping browser", "pid", l.cmd.Process.Pid)
	_ = l.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = l.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("browser stopped gracefully")
	case <-time.After(stopGrace):
		slog.Warn("browser did not exit, sending SIGKILL")
		_ = l.cmd.Process.Kill()
		<-done
	}
	l.running = false
	l.cmd = nil
}
