package mediasoup

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/hashicorp/go-version"
	"github.com/imdario/mergo"
	"golang.org/x/sync/errgroup"
)

// WorkerLogLevel selects verbosity of the engine subprocess's own logs,
// independent of the controller-side logr output (spec.md §3).
type WorkerLogLevel string

const (
	WorkerLogLevel_Debug WorkerLogLevel = "debug"
	WorkerLogLevel_Warn  WorkerLogLevel = "warn"
	WorkerLogLevel_Error WorkerLogLevel = "error"
	WorkerLogLevel_None  WorkerLogLevel = "none"
)

// WorkerLogTag selects a log subsystem to enable at WorkerLogLevel_Debug or
// WorkerLogLevel_Warn.
type WorkerLogTag string

const (
	WorkerLogTag_INFO      WorkerLogTag = "info"
	WorkerLogTag_ICE       WorkerLogTag = "ice"
	WorkerLogTag_DTLS      WorkerLogTag = "dtls"
	WorkerLogTag_RTP       WorkerLogTag = "rtp"
	WorkerLogTag_SRTP      WorkerLogTag = "srtp"
	WorkerLogTag_RTCP      WorkerLogTag = "rtcp"
	WorkerLogTag_RTX       WorkerLogTag = "rtx"
	WorkerLogTag_BWE       WorkerLogTag = "bwe"
	WorkerLogTag_Score     WorkerLogTag = "score"
	WorkerLogTag_Simulcast WorkerLogTag = "simulcast"
	WorkerLogTag_SVC       WorkerLogTag = "svc"
	WorkerLogTag_SCTP      WorkerLogTag = "sctp"
	WorkerLogTag_Message   WorkerLogTag = "message"
)

// WorkerSettings configures the spawned media engine subprocess.
type WorkerSettings struct {
	LogLevel            WorkerLogLevel
	LogTags             []WorkerLogTag
	RTCMinPort          uint16
	RTCMaxPort          uint16
	DTLSCertificateFile string
	DTLSPrivateKeyFile  string
	AppData             H
}

func defaultWorkerSettings() WorkerSettings {
	return WorkerSettings{
		LogLevel:   WorkerLogLevel_Error,
		RTCMinPort: 10000,
		RTCMaxPort: 59999,
		AppData:    H{},
	}
}

func (w WorkerSettings) args() []string {
	args := []string{fmt.Sprintf("--logLevel=%s", w.LogLevel)}
	for _, tag := range w.LogTags {
		args = append(args, fmt.Sprintf("--logTags=%s", tag))
	}
	args = append(args, fmt.Sprintf("--rtcMinPort=%d", w.RTCMinPort))
	args = append(args, fmt.Sprintf("--rtcMaxPort=%d", w.RTCMaxPort))
	if w.DTLSCertificateFile != "" && w.DTLSPrivateKeyFile != "" {
		args = append(args,
			"--dtlsCertificateFile="+w.DTLSCertificateFile,
			"--dtlsPrivateKeyFile="+w.DTLSPrivateKeyFile,
		)
	}
	return args
}

// WorkerUpdateableSettings is the subset of WorkerSettings that can be
// changed on a live worker via UpdateSettings.
type WorkerUpdateableSettings struct {
	LogLevel WorkerLogLevel `json:"logLevel,omitempty"`
	LogTags  []WorkerLogTag `json:"logTags,omitempty"`
}

// WorkerResourceUsage mirrors uv_rusage_t / getrusage(2), as reported by the
// engine over the control channel.
type WorkerResourceUsage struct {
	RUUtime    float64 `json:"ru_utime,omitempty"`
	RUStime    float64 `json:"ru_stime,omitempty"`
	RUMaxrss   int     `json:"ru_maxrss,omitempty"`
	RUIxrss    int     `json:"ru_ixrss,omitempty"`
	RUIdrss    int     `json:"ru_idrss,omitempty"`
	RUIsrss    int     `json:"ru_isrss,omitempty"`
	RUMinflt   int     `json:"ru_minflt,omitempty"`
	RUMajflt   int     `json:"ru_majflt,omitempty"`
	RUNswap    int     `json:"ru_nswap,omitempty"`
	RUInblock  int     `json:"ru_inblock,omitempty"`
	RUOublock  int     `json:"ru_oublock,omitempty"`
	RUMsgsnd   int     `json:"ru_msgsnd,omitempty"`
	RUMsgrcv   int     `json:"ru_msgrcv,omitempty"`
	RUNsignals int     `json:"ru_nsignals,omitempty"`
	RUNvcsw    int     `json:"ru_nvcsw,omitempty"`
	RUNivcsw   int     `json:"ru_nivcsw,omitempty"`
}

// WorkerOption mutates WorkerSettings before a Worker is spawned.
type WorkerOption func(*WorkerSettings)

func WithLogLevel(level WorkerLogLevel) WorkerOption {
	return func(s *WorkerSettings) { s.LogLevel = level }
}

func WithLogTags(tags ...WorkerLogTag) WorkerOption {
	return func(s *WorkerSettings) { s.LogTags = tags }
}

func WithRTCPortRange(min, max uint16) WorkerOption {
	return func(s *WorkerSettings) { s.RTCMinPort, s.RTCMaxPort = min, max }
}

func WithDTLSCertificate(certFile, keyFile string) WorkerOption {
	return func(s *WorkerSettings) { s.DTLSCertificateFile, s.DTLSPrivateKeyFile = certFile, keyFile }
}

func WithWorkerAppData(appData H) WorkerOption {
	return func(s *WorkerSettings) { s.AppData = appData }
}

func workerBinPath() string {
	if bin := os.Getenv("MEDIASOUP_WORKER_BIN"); bin != "" {
		return bin
	}
	buildType := os.Getenv("MEDIASOUP_BUILDTYPE")
	if buildType != "Debug" {
		buildType = "Release"
	}
	if runtime.GOOS == "windows" {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "npm", "node_modules",
			"mediasoup", "worker", "out", buildType, "mediasoup-worker")
	}
	return filepath.Join("/usr/local/lib/node_modules/mediasoup/worker/out", buildType, "mediasoup-worker")
}

// workerCommand wraps the engine binary with valgrind when
// MEDIASOUP_USE_VALGRIND is set, matching the original engine's own spawn
// logic (original_source/rust/src/worker.rs).
func workerCommand(args []string) (string, []string) {
	if os.Getenv("MEDIASOUP_USE_VALGRIND") == "" {
		return workerBinPath(), args
	}
	valgrindBin := os.Getenv("MEDIASOUP_VALGRIND_BIN")
	if valgrindBin == "" {
		valgrindBin = "valgrind"
	}
	return valgrindBin, append([]string{workerBinPath()}, args...)
}

// Worker owns one media engine subprocess and its two channels. Closing a
// Worker cascades Close to every Router it created (spec.md §3).
type Worker struct {
	IEventEmitter
	logger logr.Logger

	child *exec.Cmd
	pid   int

	channel        *Channel
	payloadChannel *PayloadChannel

	closed  int32
	appData H

	routersMu sync.Mutex
	routers   map[string]*Router

	observer IEventEmitter
}

// NewWorker spawns the engine subprocess, wires its four pipe file
// descriptors to Channel/PayloadChannel, and blocks until the engine reports
// itself running or fails to start.
func NewWorker(ctx context.Context, options ...WorkerOption) (*Worker, error) {
	var settings WorkerSettings
	for _, opt := range options {
		opt(&settings)
	}
	if err := mergo.Merge(&settings, defaultWorkerSettings()); err != nil {
		return nil, fmt.Errorf("mediasoup: applying default worker settings: %w", err)
	}

	logger := NewLogger("Worker")

	producerPair, err := createSocketPair()
	if err != nil {
		return nil, fmt.Errorf("mediasoup: creating channel socket pair: %w", err)
	}
	consumerPair, err := createSocketPair()
	if err != nil {
		return nil, fmt.Errorf("mediasoup: creating channel socket pair: %w", err)
	}
	payloadProducerPair, err := createSocketPair()
	if err != nil {
		return nil, fmt.Errorf("mediasoup: creating payload channel socket pair: %w", err)
	}
	payloadConsumerPair, err := createSocketPair()
	if err != nil {
		return nil, fmt.Errorf("mediasoup: creating payload channel socket pair: %w", err)
	}

	producerSocket, err := fileToConn(producerPair[0])
	if err != nil {
		return nil, err
	}
	consumerSocket, err := fileToConn(consumerPair[0])
	if err != nil {
		return nil, err
	}
	payloadProducerSocket, err := fileToConn(payloadProducerPair[0])
	if err != nil {
		return nil, err
	}
	payloadConsumerSocket, err := fileToConn(payloadConsumerPair[0])
	if err != nil {
		return nil, err
	}

	bin, args := workerCommand(settings.args())
	logger.V(1).Info("spawning worker process", "bin", bin, "args", args)

	child := exec.Command(bin, args...)
	child.ExtraFiles = []*os.File{producerPair[1], consumerPair[1], payloadProducerPair[1], payloadConsumerPair[1]}
	child.Env = append(os.Environ(), "MEDIASOUP_VERSION=3.6.12")

	stderr, err := child.StderrPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := child.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := child.Start(); err != nil {
		return nil, err
	}

	pid := child.Process.Pid
	channel := newChannel(producerSocket, consumerSocket, pid)
	payloadChannel := newPayloadChannel(payloadProducerSocket, payloadConsumerSocket, pid)
	workerLogger := NewLogger(fmt.Sprintf("worker[pid:%d]", pid))

	tagMatcher := buildLogTagMatcher(settings.LogTags)

	go forwardLines(stderr, func(line string) { workerLogger.Error(nil, line) })
	go forwardLines(stdout, func(line string) {
		if tagMatcher != nil && !tagMatcher.Match(line) {
			return
		}
		workerLogger.V(1).Info(line)
	})

	worker := &Worker{
		IEventEmitter:  NewEventEmitter(),
		logger:         logger,
		child:          child,
		pid:            pid,
		channel:        channel,
		payloadChannel: payloadChannel,
		appData:        settings.AppData,
		routers:        make(map[string]*Router),
		observer:       NewEventEmitter(),
	}

	var g errgroup.Group
	running := make(chan struct{})
	failure := make(chan error, 1)

	channel.Subscribe(fmt.Sprintf("%d", pid), func(event string, data []byte) {
		if event == "running" {
			select {
			case <-running:
			default:
				close(running)
			}
		}
	})

	g.Go(func() error {
		select {
		case <-running:
			return nil
		case err := <-failure:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	go worker.watchExit(failure)

	if err := g.Wait(); err != nil {
		child.Process.Kill()
		return nil, err
	}

	logger.V(1).Info("worker process running", "pid", pid)
	return worker, nil
}

// buildLogTagMatcher compiles the configured log tags into a glob matching
// the "TAG:" prefix mediasoup-worker writes at the start of each debug line.
// A nil return means no client-side filtering on top of --logTags.
func buildLogTagMatcher(tags []WorkerLogTag) glob.Glob {
	if len(tags) == 0 {
		return nil
	}
	parts := make([]string, len(tags))
	for i, tag := range tags {
		parts[i] = strings.ToUpper(string(tag)) + ":*"
	}
	pattern := "{" + strings.Join(parts, ",") + "}"
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil
	}
	return g
}

func forwardLines(r io.Reader, emit func(line string)) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			emit(line)
		}
		if err != nil {
			return
		}
	}
}

func (w *Worker) watchExit(failure chan<- error) {
	err := w.child.Wait()
	w.Close()

	code, signal := 0, ""
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			code = status.ExitStatus()
			if status.Signaled() {
				signal = status.Signal().String()
			}
		}
	}

	if code == 42 {
		werr := NewTypeError("wrong settings")
		select {
		case failure <- werr:
		default:
		}
		w.Emit("@failure", werr)
		return
	}

	exitErr := fmt.Errorf("mediasoup: worker process exited [pid:%d, code:%d, signal:%s]", w.pid, code, signal)
	select {
	case failure <- exitErr:
	default:
	}
	w.SafeEmit("died", exitErr)
}

// Pid returns the engine subprocess's operating-system process id.
func (w *Worker) Pid() int { return w.pid }

// Closed reports whether Close has already run.
func (w *Worker) Closed() bool { return atomic.LoadInt32(&w.closed) != 0 }

// Observer exposes worker-lifecycle events (newrouter, close) independent of
// application listeners on the Worker itself.
func (w *Worker) Observer() IEventEmitter { return w.observer }

// AppData returns the application-supplied opaque data for this worker.
func (w *Worker) AppData() H { return w.appData }

// Close terminates the engine subprocess and cascades Close to every Router
// the worker created.
func (w *Worker) Close() {
	if !atomic.CompareAndSwapInt32(&w.closed, 0, 1) {
		return
	}
	w.logger.V(1).Info("close", "pid", w.pid)

	w.channel.MarkWorkerClosing()
	if w.child != nil {
		w.child.Process.Signal(syscall.SIGTERM)
	}

	w.channel.Close()
	w.payloadChannel.Close()

	w.routersMu.Lock()
	routers := w.routers
	w.routers = make(map[string]*Router)
	w.routersMu.Unlock()

	for _, router := range routers {
		router.workerClosed()
	}

	w.observer.SafeEmit("close")
}

// Dump returns the engine's internal worker dump for diagnostics.
func (w *Worker) Dump(ctx context.Context) ([]byte, error) {
	resp := w.channel.Request(ctx, "worker.dump", internalData{})
	return resp.Data(), resp.Err()
}

// GetResourceUsage returns the engine subprocess's OS resource usage.
func (w *Worker) GetResourceUsage(ctx context.Context) (WorkerResourceUsage, error) {
	var usage WorkerResourceUsage
	err := w.channel.Request(ctx, "worker.getResourceUsage", internalData{}).Unmarshal(&usage)
	return usage, err
}

// Version queries the engine subprocess's own version string and parses it
// for feature-gating comparisons (spec.md §3).
func (w *Worker) Version(ctx context.Context) (*version.Version, error) {
	resp := w.channel.Request(ctx, "worker.getVersion", internalData{})
	if err := resp.Err(); err != nil {
		return nil, err
	}
	var raw string
	if err := resp.Unmarshal(&raw); err != nil {
		return nil, err
	}
	return version.NewVersion(raw)
}

// SupportsFeature reports whether this worker's engine version is at least
// minVersion, for gating features the spec marks as version-dependent
// (e.g. RTX on piped transports).
func (w *Worker) SupportsFeature(ctx context.Context, minVersion string) (bool, error) {
	min, err := version.NewVersion(minVersion)
	if err != nil {
		return false, err
	}
	current, err := w.Version(ctx)
	if err != nil {
		return false, err
	}
	return current.GreaterThanOrEqual(min), nil
}

// UpdateSettings changes the engine's live log level and log tags.
func (w *Worker) UpdateSettings(ctx context.Context, settings WorkerUpdateableSettings) error {
	return w.channel.Request(ctx, "worker.updateSettings", internalData{}, settings).Err()
}

// CreateRouter creates a Router backed by this worker, generating the
// router's finalized RTP capabilities from the supplied media codecs
// (spec.md §4.2).
func (w *Worker) CreateRouter(ctx context.Context, options RouterOptions) (*Router, error) {
	internal := internalData{RouterId: uuid.New().String()}

	if err := w.channel.Request(ctx, "worker.createRouter", internal).Err(); err != nil {
		return nil, err
	}

	rtpCapabilities, err := generateRouterRtpCapabilities(options.MediaCodecs)
	if err != nil {
		return nil, err
	}

	router := newRouter(routerParams{
		internal:       internal,
		data:           routerData{RtpCapabilities: rtpCapabilities},
		channel:        w.channel,
		payloadChannel: w.payloadChannel,
		appData:        options.AppData,
	})

	w.routersMu.Lock()
	w.routers[internal.RouterId] = router
	w.routersMu.Unlock()

	router.On("@close", func() {
		w.routersMu.Lock()
		delete(w.routers, internal.RouterId)
		w.routersMu.Unlock()
	})

	w.observer.SafeEmit("newrouter", router)
	return router, nil
}

func createSocketPair() ([2]*os.File, error) {
	var files [2]*os.File
	fds, err := syscall.Socketpair(syscall.AF_LOCAL, syscall.SOCK_STREAM, 0)
	if err != nil {
		return files, err
	}
	files[0] = os.NewFile(uintptr(fds[0]), "")
	files[1] = os.NewFile(uintptr(fds[1]), "")
	return files, nil
}

func fileToConn(file *os.File) (net.Conn, error) {
	defer file.Close()
	return net.FileConn(file)
}
