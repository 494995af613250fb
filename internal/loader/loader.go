package loader

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"github.com/noah-isme/sma-timetable-agents/internal/models"
	apperrors "github.com/noah-isme/sma-timetable-agents/pkg/errors"
)

// SubjectInput mirrors one subject row of profesores.json.
type SubjectInput struct {
	Name       string `json:"Nombre" validate:"required"`
	Code       string `json:"CodigoAsignatura" validate:"required"`
	Level      int    `json:"Nivel" validate:"required,min=1"`
	Parallel   string `json:"Paralelo"`
	Hours      int    `json:"Horas" validate:"required,min=1,max=9"`
	Enrollment int    `json:"Vacantes" validate:"required,min=1"`
	Campus     string `json:"Campus" validate:"required"`
	Activity   string `json:"Actividad" validate:"required,oneof=THEORY LAB PRACTICE WORKSHOP TUTORING AIDE"`
}

// ProfessorInput mirrors one row of profesores.json. Turn order is dense and
// assigned by file position.
type ProfessorInput struct {
	Name     string         `json:"Nombre" validate:"required"`
	PartTime bool           `json:"JornadaParcial"`
	Subjects []SubjectInput `json:"Asignaturas" validate:"required,min=1,dive"`
}

// RoomInput mirrors one row of salas.json.
type RoomInput struct {
	Code     string `json:"Codigo" validate:"required"`
	Campus   string `json:"Campus" validate:"required"`
	Capacity int    `json:"Capacidad" validate:"required,min=1"`
	Shift    int    `json:"Turno"`
}

// ModelSubjects converts the input rows into domain subjects.
func (p ProfessorInput) ModelSubjects() []models.Subject {
	out := make([]models.Subject, 0, len(p.Subjects))
	for _, s := range p.Subjects {
		out = append(out, models.Subject{
			Name:       s.Name,
			Code:       s.Code,
			Level:      s.Level,
			Parallel:   s.Parallel,
			Hours:      s.Hours,
			Enrollment: s.Enrollment,
			Campus:     s.Campus,
			Activity:   models.Activity(s.Activity),
		})
	}
	return out
}

// Model converts a room row into the domain model.
func (r RoomInput) Model() models.Room {
	return models.Room{
		Code:     r.Code,
		Campus:   r.Campus,
		Capacity: r.Capacity,
		Shift:    r.Shift,
	}
}

// LoadProfessors reads and validates profesores.json.
func LoadProfessors(path string) ([]ProfessorInput, error) {
	var rows []ProfessorInput
	if err := loadJSON(path, &rows); err != nil {
		return nil, err
	}
	validate := validator.New()
	for i, row := range rows {
		if err := validate.Struct(row); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrValidation.Code,
				fmt.Sprintf("professor %d (%s) failed validation", i, row.Name))
		}
	}
	return rows, nil
}

// LoadRooms reads and validates salas.json.
func LoadRooms(path string) ([]RoomInput, error) {
	var rows []RoomInput
	if err := loadJSON(path, &rows); err != nil {
		return nil, err
	}
	validate := validator.New()
	seen := make(map[string]struct{}, len(rows))
	for i, row := range rows {
		if err := validate.Struct(row); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrValidation.Code,
				fmt.Sprintf("room %d (%s) failed validation", i, row.Code))
		}
		if _, dup := seen[row.Code]; dup {
			return nil, apperrors.Clone(apperrors.ErrValidation, "duplicate room code "+row.Code)
		}
		seen[row.Code] = struct{}{}
	}
	return rows, nil
}

func loadJSON(path string, v interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperrors.Wrap(err, apperrors.ErrValidation.Code, "parse "+path)
	}
	return nil
}
