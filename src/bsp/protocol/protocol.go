// Package protocol defines the build server protocol wire surface: method
// names, request and response payloads, and the notification payloads emitted
// while long-running tasks execute. Shapes here must stay compatible with
// deployed servers, so field names and dataKind tags are never renamed.
package protocol

import (
	"encoding/json"

	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// Request methods.
const (
	MethodBuildInitialize              = "build/initialize"
	MethodBuildShutdown                = "build/shutdown"
	MethodWorkspaceBuildTargets        = "workspace/buildTargets"
	MethodBuildTargetSources           = "buildTarget/sources"
	MethodBuildTargetDependencySources = "buildTarget/dependencySources"
	MethodBuildTargetCompilerOptions   = "buildTarget/compilerOptions"
	MethodBuildTargetCompile           = "buildTarget/compile"
)

// Notification methods.
const (
	MethodBuildInitialized        = "build/initialized"
	MethodBuildExit               = "build/exit"
	MethodBuildTaskStart          = "build/taskStart"
	MethodBuildTaskProgress       = "build/taskProgress"
	MethodBuildTaskFinish         = "build/taskFinish"
	MethodBuildLogMessage         = "build/logMessage"
	MethodBuildShowMessage        = "build/showMessage"
	MethodBuildPublishDiagnostics = "build/publishDiagnostics"
	MethodCancelRequest           = "$/cancelRequest"
)

// Data kinds tagging the polymorphic `data` field of targets and task events.
const (
	DataKindCompileTask   = "compile-task"
	DataKindCompileReport = "compile-report"
	DataKindJvm           = "jvm"
	DataKindJs            = "js"
	DataKindNative        = "native"
)

// StatusCode reports the outcome of a request or task.
type StatusCode int

const (
	// StatusOk indicates successful completion.
	StatusOk StatusCode = 1
	// StatusError indicates completion with errors.
	StatusError StatusCode = 2
	// StatusCancelled indicates the work was cancelled before completion.
	StatusCancelled StatusCode = 3
)

// BuildTargetIdentifier is the opaque, stable id of a compilation unit.
type BuildTargetIdentifier struct {
	URI uri.URI `json:"uri"`
}

// BuildClientCapabilities describes what the connecting client supports.
type BuildClientCapabilities struct {
	LanguageIDs []string `json:"languageIds"`
}

// InitializeBuildParams opens the handshake for a new session.
type InitializeBuildParams struct {
	DisplayName  string                  `json:"displayName"`
	Version      string                  `json:"version"`
	BspVersion   string                  `json:"bspVersion"`
	RootURI      uri.URI                 `json:"rootUri"`
	Capabilities BuildClientCapabilities `json:"capabilities"`
}

// CompileProvider advertises the languages the server can compile.
type CompileProvider struct {
	LanguageIDs []string `json:"languageIds"`
}

// BuildServerCapabilities describes what the server supports.
type BuildServerCapabilities struct {
	CompileProvider   *CompileProvider `json:"compileProvider,omitempty"`
	DependencySources bool             `json:"dependencySourcesProvider,omitempty"`
	ResourcesProvider bool             `json:"resourcesProvider,omitempty"`
	CanReload         bool             `json:"canReload,omitempty"`
}

// InitializeBuildResult completes the handshake.
type InitializeBuildResult struct {
	DisplayName  string                  `json:"displayName"`
	Version      string                  `json:"version"`
	BspVersion   string                  `json:"bspVersion"`
	Capabilities BuildServerCapabilities `json:"capabilities"`
}

// BuildTargetCapabilities describes the operations valid for one target.
type BuildTargetCapabilities struct {
	CanCompile bool `json:"canCompile"`
	CanTest    bool `json:"canTest"`
	CanRun     bool `json:"canRun"`
}

// BuildTarget describes one compilation unit in the workspace graph.
// Data carries platform-specific detail tagged by DataKind (jvm, js, native).
type BuildTarget struct {
	ID            BuildTargetIdentifier   `json:"id"`
	DisplayName   string                  `json:"displayName,omitempty"`
	BaseDirectory uri.URI                 `json:"baseDirectory,omitempty"`
	Tags          []string                `json:"tags,omitempty"`
	LanguageIDs   []string                `json:"languageIds"`
	Dependencies  []BuildTargetIdentifier `json:"dependencies"`
	Capabilities  BuildTargetCapabilities `json:"capabilities"`
	DataKind      string                  `json:"dataKind,omitempty"`
	Data          json.RawMessage         `json:"data,omitempty"`
}

// JvmBuildTarget is the BuildTarget data payload for DataKindJvm.
type JvmBuildTarget struct {
	JavaHome    uri.URI `json:"javaHome,omitempty"`
	JavaVersion string  `json:"javaVersion,omitempty"`
}

// JsBuildTarget is the BuildTarget data payload for DataKindJs.
type JsBuildTarget struct {
	NodeVersion string `json:"nodeVersion,omitempty"`
}

// NativeBuildTarget is the BuildTarget data payload for DataKindNative.
type NativeBuildTarget struct {
	Toolchain string `json:"toolchain,omitempty"`
}

// WorkspaceBuildTargetsResult lists every target in the current graph.
// An empty list is a valid result, not an error.
type WorkspaceBuildTargetsResult struct {
	Targets []BuildTarget `json:"targets"`
}

// SourcesParams requests the source files of the given targets.
type SourcesParams struct {
	Targets []BuildTargetIdentifier `json:"targets"`
}

// SourceItem is one source file or directory of a target.
type SourceItem struct {
	URI uri.URI `json:"uri"`
	// Generated marks sources produced by a build step rather than authored.
	Generated bool `json:"generated"`
}

// SourcesItem groups the sources of one target.
type SourcesItem struct {
	Target  BuildTargetIdentifier `json:"target"`
	Sources []SourceItem          `json:"sources"`
}

// SourcesResult answers buildTarget/sources.
type SourcesResult struct {
	Items []SourcesItem `json:"items"`
}

// DependencySourcesParams requests sources artifacts of resolved dependencies.
type DependencySourcesParams struct {
	Targets []BuildTargetIdentifier `json:"targets"`
}

// DependencySourcesItem groups the dependency sources of one target.
// Sources is deduplicated and contains only artifacts classified as sources.
type DependencySourcesItem struct {
	Target  BuildTargetIdentifier `json:"target"`
	Sources []uri.URI             `json:"sources"`
}

// DependencySourcesResult answers buildTarget/dependencySources.
type DependencySourcesResult struct {
	Items []DependencySourcesItem `json:"items"`
}

// CompilerOptionsParams requests compiler invocation detail for targets.
type CompilerOptionsParams struct {
	Targets []BuildTargetIdentifier `json:"targets"`
}

// CompilerOptionsItem carries the compiler invocation detail for one target.
// Classpath is ordered; each entry appears exactly once.
type CompilerOptionsItem struct {
	Target         BuildTargetIdentifier `json:"target"`
	Options        []string              `json:"options"`
	Classpath      []uri.URI             `json:"classpath"`
	ClassDirectory uri.URI               `json:"classDirectory"`
}

// CompilerOptionsResult answers buildTarget/compilerOptions.
type CompilerOptionsResult struct {
	Items []CompilerOptionsItem `json:"items"`
}

// CompileParams requests compilation of targets. OriginID correlates the
// invocation with the asynchronous task notifications it produces.
type CompileParams struct {
	Targets   []BuildTargetIdentifier `json:"targets"`
	OriginID  string                  `json:"originId,omitempty"`
	Arguments []string                `json:"arguments,omitempty"`
}

// CompileResult acknowledges a compile request. Per-target outcomes arrive
// asynchronously as task notifications, not in this result.
type CompileResult struct {
	OriginID   string     `json:"originId,omitempty"`
	StatusCode StatusCode `json:"statusCode"`
}

// TaskID identifies one long-running unit of work.
type TaskID struct {
	ID      string   `json:"id"`
	Parents []string `json:"parents,omitempty"`
}

// TaskStartParams announces that a task began.
type TaskStartParams struct {
	TaskID    TaskID          `json:"taskId"`
	EventTime int64           `json:"eventTime,omitempty"`
	Message   string          `json:"message,omitempty"`
	DataKind  string          `json:"dataKind,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// TaskProgressParams reports incremental progress of a running task.
type TaskProgressParams struct {
	TaskID    TaskID          `json:"taskId"`
	EventTime int64           `json:"eventTime,omitempty"`
	Message   string          `json:"message,omitempty"`
	Progress  int64           `json:"progress,omitempty"`
	Total     int64           `json:"total,omitempty"`
	Unit      string          `json:"unit,omitempty"`
	DataKind  string          `json:"dataKind,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// TaskFinishParams announces that a task completed.
type TaskFinishParams struct {
	TaskID    TaskID          `json:"taskId"`
	EventTime int64           `json:"eventTime,omitempty"`
	Message   string          `json:"message,omitempty"`
	Status    StatusCode      `json:"status"`
	DataKind  string          `json:"dataKind,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// CompileTask is the task data payload announcing compilation of one target.
type CompileTask struct {
	Target   BuildTargetIdentifier `json:"target"`
	OriginID string                `json:"originId,omitempty"`
}

// CompileReport is the task data payload summarizing one target's compile.
// AnalysisLocation points at the opaque incremental-analysis blob on disk.
type CompileReport struct {
	Target           BuildTargetIdentifier `json:"target"`
	OriginID         string                `json:"originId,omitempty"`
	Errors           int                   `json:"errors"`
	Warnings         int                   `json:"warnings"`
	Time             int64                 `json:"time,omitempty"`
	AnalysisLocation uri.URI               `json:"analysisLocation,omitempty"`
}

// MessageType ranks log and show messages.
type MessageType int

const (
	// MessageError is an error message.
	MessageError MessageType = 1
	// MessageWarning is a warning message.
	MessageWarning MessageType = 2
	// MessageInfo is an informational message.
	MessageInfo MessageType = 3
	// MessageLog is a log message.
	MessageLog MessageType = 4
)

// LogMessageParams carries a log notification from the server.
type LogMessageParams struct {
	Type     MessageType `json:"type"`
	Task     *TaskID     `json:"task,omitempty"`
	OriginID string      `json:"originId,omitempty"`
	Message  string      `json:"message"`
}

// ShowMessageParams carries a user-facing message from the server.
type ShowMessageParams struct {
	Type     MessageType `json:"type"`
	Task     *TaskID     `json:"task,omitempty"`
	OriginID string      `json:"originId,omitempty"`
	Message  string      `json:"message"`
}

// TextDocumentIdentifier names the document diagnostics apply to.
type TextDocumentIdentifier struct {
	URI uri.URI `json:"uri"`
}

// PublishDiagnosticsParams streams compiler diagnostics for one document.
// Diagnostic shapes are shared with the language server protocol.
type PublishDiagnosticsParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	BuildTarget  BuildTargetIdentifier  `json:"buildTarget"`
	OriginID     string                 `json:"originId,omitempty"`
	Diagnostics  []lsp.Diagnostic       `json:"diagnostics"`
	Reset        bool                   `json:"reset"`
}

// CancelRequestParams asks the peer to cancel an in-flight request.
type CancelRequestParams struct {
	ID interface{} `json:"id"`
}
