package filesystem

type (
	Reader interface {
		ReadJSON(path string, target any) error
	}
	Writer interface {
		// WriteJSON replaces the file at path atomically.
		WriteJSON(path string, data any) error
		// CreateJSON writes the file only if nothing exists at path yet. It
		// returns an error matching fs.ErrExist otherwise.
		CreateJSON(path string, data any) error
	}
)
