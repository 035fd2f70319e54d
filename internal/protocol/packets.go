// Package protocol defines the packet types exchanged between warden and its
// clients as well as the encrypted framing used to move them over a TCP
// connection. Every payload is a small JSON document tagged with a "type" (or
// "kind") discriminator and wrapped in an AES-encrypted frame; see frame.go
// for the wire layout.
package protocol

// Status is the closed set of states a managed server can be in. Exactly one
// value is valid per server at any instant.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusStopping  Status = "stopping"
	StatusBackingUp Status = "backing_up"
	StatusRestoring Status = "restoring"
	StatusModding   Status = "modding"
	StatusPackaging Status = "packaging"
)

// LoginRequest is always the first frame on an authenticated connection. The
// password digest is computed client-side as the SHA-256 of the plaintext.
type LoginRequest struct {
	Username     string `json:"username"`
	PasswordHash []byte `json:"password_hash"`
}

type LoginResult string

const (
	LoginOk               LoginResult = "ok"
	LoginWrongCredentials LoginResult = "wrong_credentials"
)

type LoginResponse struct {
	Result LoginResult `json:"result"`
}

// NetCommandType discriminates the top-level request read after login.
type NetCommandType string

const (
	NetListServers   NetCommandType = "list_servers"
	NetServerCommand NetCommandType = "server_command"
	NetNotifications NetCommandType = "notifications"
)

// NetCommand is the single request frame a client sends after logging in.
type NetCommand struct {
	Type    NetCommandType `json:"type"`
	Server  string         `json:"server,omitempty"`
	Command *ServerCommand `json:"command,omitempty"`
}

// CommandType discriminates the per-server commands.
type CommandType string

const (
	CmdStart           CommandType = "start"
	CmdStop            CommandType = "stop"
	CmdStatus          CommandType = "status"
	CmdReboot          CommandType = "reboot"
	CmdConsole         CommandType = "console"
	CmdBackup          CommandType = "backup"
	CmdRestore         CommandType = "restore"
	CmdListMods        CommandType = "list_mods"
	CmdQueryMod        CommandType = "query_mod"
	CmdInstallMod      CommandType = "install_mod"
	CmdUninstallMod    CommandType = "uninstall_mod"
	CmdUpdateMod       CommandType = "update_mod"
	CmdGenerateModsZip CommandType = "generate_mods_zip"
)

// ServerCommand addresses one managed server. Only the fields relevant to
// Type are populated.
type ServerCommand struct {
	Type CommandType `json:"type"`

	// Console text.
	Text string `json:"text,omitempty"`

	// ListMods pagination. A PageSize of 0 returns the full inventory.
	PageSize  uint64 `json:"page_size,omitempty"`
	PageIndex uint64 `json:"page_index,omitempty"`

	// Mod identity and staging for the mod lifecycle commands.
	ModID      string `json:"mod_id,omitempty"`
	StagedPath string `json:"staged_path,omitempty"`
	Filename   string `json:"filename,omitempty"`
}

type ResponseType string

const (
	RespOk            ResponseType = "ok"
	RespErr           ResponseType = "err"
	RespUnknownServer ResponseType = "unknown_server"
	RespInvalidState  ResponseType = "invalid_state"
	RespNoBackup      ResponseType = "no_backup"
	RespStatus        ResponseType = "status"
	RespList          ResponseType = "list"
	RespCommandOutput ResponseType = "command_output"
	RespNotifications ResponseType = "notifications"
	RespModConflict   ResponseType = "mod_conflict"
	RespNoSuchMod     ResponseType = "no_such_mod"
	RespMods          ResponseType = "mods"
	RespMod           ResponseType = "mod"
)

// Response answers exactly one NetCommand or login exchange.
type Response struct {
	Type ResponseType `json:"type"`

	Status        *ServerStatus  `json:"status,omitempty"`
	Servers       []ServerStatus `json:"servers,omitempty"`
	Output        string         `json:"output,omitempty"`
	Notifications []Notification `json:"notifications,omitempty"`
	Mods          []ModInfo      `json:"mods,omitempty"`
	LastPage      bool           `json:"last_page,omitempty"`
	Mod           *ModInfo       `json:"mod,omitempty"`
}

func Ok() Response           { return Response{Type: RespOk} }
func Err() Response          { return Response{Type: RespErr} }
func InvalidState() Response { return Response{Type: RespInvalidState} }

func CommandOutput(s string) Response {
	return Response{Type: RespCommandOutput, Output: s}
}

// ServerStatus is the per-server summary returned by ListServers and Status.
type ServerStatus struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Status Status `json:"status"`
}

// ModInfo is the identity and metadata of an installed or staged mod archive.
// Identity is defined by ModID, not by filename.
type ModInfo struct {
	ModID    string `json:"mod_id"`
	Filename string `json:"filename"`
	Path     string `json:"path"`

	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Version     string   `json:"version,omitempty"`
	Logo        []byte   `json:"logo,omitempty"`
	URL         string   `json:"url,omitempty"`
	Credits     string   `json:"credits,omitempty"`
	Authors     []string `json:"authors,omitempty"`
}

type NotificationKind string

const (
	NotifStatusChanged   NotificationKind = "status_changed"
	NotifBackupProgress  NotificationKind = "backup_progress"
	NotifBackupFailed    NotificationKind = "backup_failed"
	NotifRestoreProgress NotificationKind = "restore_progress"
	NotifRestoreFailed   NotificationKind = "restore_failed"
	NotifZipProgress     NotificationKind = "zip_progress"
	NotifZipFailed       NotificationKind = "zip_failed"
	NotifZipFile         NotificationKind = "zip_file"
)

type ZipPhase string

const (
	ZipPhaseZipping   ZipPhase = "zipping"
	ZipPhaseUploading ZipPhase = "uploading"
)

// Notification describes asynchronous progress or failure of a server
// operation. Progress notifications of the same kind for the same server
// replace any pending one in the outbox; everything else appends.
type Notification struct {
	Kind   NotificationKind `json:"kind"`
	Server string           `json:"server"`

	OldStatus Status `json:"old_status,omitempty"`
	NewStatus Status `json:"new_status,omitempty"`

	Copied uint64   `json:"copied,omitempty"`
	Total  uint64   `json:"total,omitempty"`
	Phase  ZipPhase `json:"phase,omitempty"`

	Error string `json:"error,omitempty"`
	URL   string `json:"url,omitempty"`
}

// IsProgress reports whether the notification is subject to the outbox's
// replace-on-kind coalescing policy.
func (n Notification) IsProgress() bool {
	switch n.Kind {
	case NotifBackupProgress, NotifRestoreProgress, NotifZipProgress:
		return true
	}
	return false
}

func StatusChanged(server string, old, new Status) Notification {
	return Notification{Kind: NotifStatusChanged, Server: server, OldStatus: old, NewStatus: new}
}

func BackupProgress(server string, copied, total uint64) Notification {
	return Notification{Kind: NotifBackupProgress, Server: server, Copied: copied, Total: total}
}

func RestoreProgress(server string, copied, total uint64) Notification {
	return Notification{Kind: NotifRestoreProgress, Server: server, Copied: copied, Total: total}
}

func ZipProgress(server string, phase ZipPhase, copied, total uint64) Notification {
	return Notification{Kind: NotifZipProgress, Server: server, Phase: phase, Copied: copied, Total: total}
}
