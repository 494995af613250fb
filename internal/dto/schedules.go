package dto

// ScheduledSubject is one confirmed block inside Horarios_asignados.json.
type ScheduledSubject struct {
	Name         string `json:"Nombre"`
	Room         string `json:"Sala"`
	Block        int    `json:"Bloque"`
	Day          string `json:"Dia"`
	Satisfaction int    `json:"Satisfaccion"`
	SubjectCode  string `json:"CodigoAsignatura"`
	Instance     int    `json:"Instance"`
	Activity     string `json:"Actividad"`
}

// ProfessorScheduleEntry is a professor's row in Horarios_asignados.json.
type ProfessorScheduleEntry struct {
	Name              string             `json:"Nombre"`
	Subjects          []ScheduledSubject `json:"Asignaturas"`
	Requests          int                `json:"Solicitudes"`
	CompletedSubjects int                `json:"AsignaturasCompletadas"`
}

// RoomScheduledSubject is one occupied cell inside Horarios_salas.json.
type RoomScheduledSubject struct {
	Name         string `json:"Nombre"`
	Capacity     int    `json:"Capacidad"`
	Block        int    `json:"Bloque"`
	Day          string `json:"Dia"`
	Satisfaction int    `json:"Satisfaccion"`
}

// RoomScheduleEntry is a room's row in Horarios_salas.json.
type RoomScheduleEntry struct {
	Code     string                 `json:"Codigo"`
	Campus   string                 `json:"Campus"`
	Subjects []RoomScheduledSubject `json:"Asignaturas"`
}
