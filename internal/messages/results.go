package messages

// RevResultType discriminates RevResult.
type RevResultType string

const (
	RevResultDetail   RevResultType = "Detail"
	RevResultNotFound RevResultType = "NotFound"
)

// RevResult is the outcome of a revision query. Detail fills Header,
// Parents and Changes; NotFound fills ID with the requested id.
type RevResult struct {
	Type    RevResultType `json:"type"`
	ID      *RevId        `json:"id,omitempty"`
	Header  *RevHeader    `json:"header,omitempty"`
	Parents []RevHeader   `json:"parents,omitempty"`
	Changes []RevChange   `json:"changes,omitempty"`
}

func NewRevDetail(header RevHeader, parents []RevHeader, changes []RevChange) RevResult {
	return RevResult{Type: RevResultDetail, Header: &header, Parents: parents, Changes: changes}
}

func NewRevNotFound(id RevId) RevResult {
	return RevResult{Type: RevResultNotFound, ID: &id}
}

// RepoStatus summarises the repository after an operation.
type RepoStatus struct {
	OperationDescription string   `json:"operation_description"`
	WorkingCopy          CommitId `json:"working_copy"`
}

// MutationResultType discriminates MutationResult.
type MutationResultType string

const (
	MutationUnchanged         MutationResultType = "Unchanged"
	MutationUpdated           MutationResultType = "Updated"
	MutationUpdatedSelection  MutationResultType = "UpdatedSelection"
	MutationPreconditionError MutationResultType = "PreconditionError"
	MutationInternalError     MutationResultType = "InternalError"
)

// MutationResult is the outcome of a mutation.
type MutationResult struct {
	Type         MutationResultType `json:"type"`
	NewStatus    *RepoStatus        `json:"new_status,omitempty"`
	NewSelection *RevHeader         `json:"new_selection,omitempty"`
	Message      string             `json:"message,omitempty"`
}

func Unchanged() MutationResult {
	return MutationResult{Type: MutationUnchanged}
}

func Updated(status RepoStatus) MutationResult {
	return MutationResult{Type: MutationUpdated, NewStatus: &status}
}

func UpdatedSelection(status RepoStatus, selection RevHeader) MutationResult {
	return MutationResult{Type: MutationUpdatedSelection, NewStatus: &status, NewSelection: &selection}
}

func PreconditionError(message string) MutationResult {
	return MutationResult{Type: MutationPreconditionError, Message: message}
}

func InternalError(message string) MutationResult {
	return MutationResult{Type: MutationInternalError, Message: message}
}

// Failed reports whether the mutation did not apply.
func (r MutationResult) Failed() bool {
	return r.Type == MutationPreconditionError || r.Type == MutationInternalError
}

// RepoConfigType discriminates RepoConfig.
type RepoConfigType string

const (
	RepoConfigWorkspace RepoConfigType = "Workspace"
	RepoConfigLoadError RepoConfigType = "LoadError"
)

// RepoConfig describes a loaded workspace, or why loading failed.
type RepoConfig struct {
	Type         RepoConfigType `json:"type"`
	AbsolutePath string         `json:"absolute_path"`
	DefaultQuery string         `json:"default_query,omitempty"`
	LatestQuery  string         `json:"latest_query,omitempty"`
	Status       *RepoStatus    `json:"status,omitempty"`
	Message      string         `json:"message,omitempty"`
}

// OperationEntry is one entry of the operation log.
type OperationEntry struct {
	Seq         int64  `json:"seq"`
	Description string `json:"description"`
	Timestamp   int64  `json:"timestamp"` // milliseconds since epoch
}
