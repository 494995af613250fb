package dto

// CFP is the call-for-proposals body a professor broadcasts to classrooms.
// Field names follow the wire format inherited from the JSON inputs.
type CFP struct {
	Name          string `json:"nombre" validate:"required"`
	Enrollment    int    `json:"vacantes" validate:"required,min=1"`
	Level         int    `json:"nivel" validate:"required,min=1"`
	Campus        string `json:"campus" validate:"required"`
	PendingBlocks int    `json:"bloques_pendientes" validate:"required,min=1,max=9"`
	AssignedRoom  string `json:"sala_asignada"`
	LastDay       string `json:"ultimo_dia"`
	LastBlock     int    `json:"ultimo_bloque"`
}

// ClassroomAvailability is the PROPOSE body a room answers a CFP with.
type ClassroomAvailability struct {
	Code            string           `json:"codigo"`
	Campus          string           `json:"campus"`
	Capacity        int              `json:"capacidad"`
	AvailableBlocks map[string][]int `json:"available_blocks"`
}

// AssignmentRequest asks a room to commit one (day, block) cell.
type AssignmentRequest struct {
	Day           string `json:"day" validate:"required"`
	Block         int    `json:"block" validate:"required,min=1,max=9"`
	SubjectName   string `json:"subject_name" validate:"required"`
	Satisfaction  int    `json:"satisfaction" validate:"required,min=1,max=10"`
	ClassroomCode string `json:"classroom_code" validate:"required"`
	Vacancy       int    `json:"vacancy" validate:"required,min=1"`
}

// BatchAssignmentRequest is the ACCEPT_PROPOSAL body.
type BatchAssignmentRequest struct {
	Requests []AssignmentRequest `json:"requests" validate:"required,min=1,dive"`
}

// ConfirmedAssignment is one successfully installed cell.
type ConfirmedAssignment struct {
	Day           string `json:"day"`
	Block         int    `json:"block"`
	ClassroomCode string `json:"classroom_code"`
	Satisfaction  int    `json:"satisfaction"`
}

// BatchAssignmentConfirmation is the INFORM body listing exactly the cells
// that were installed; requests missing from it failed verification.
type BatchAssignmentConfirmation struct {
	Confirmed []ConfirmedAssignment `json:"confirmed"`
}
