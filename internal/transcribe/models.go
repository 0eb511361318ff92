package transcribe

// ModelInfo describes a Whisper model size offered for the local backend.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        string `json:"size"`
	Description string `json:"description"`
	Recommended bool   `json:"recommended"`
}

var catalog = []ModelInfo{
	{ID: "Systran/faster-whisper-tiny", Name: "Tiny", Size: "75 MB", Description: "Fastest, lowest accuracy"},
	{ID: "Systran/faster-whisper-base", Name: "Base", Size: "142 MB", Description: "Fast with good accuracy", Recommended: true},
	{ID: "Systran/faster-whisper-small", Name: "Small", Size: "466 MB", Description: "Balanced speed and accuracy"},
	{ID: "Systran/faster-whisper-medium", Name: "Medium", Size: "1.5 GB", Description: "Slower, high accuracy"},
	{ID: "Systran/faster-whisper-large-v3", Name: "Large", Size: "3.1 GB", Description: "Slowest, best accuracy, GPU recommended"},
}

// Models returns the local model catalog. The slice is a copy.
func Models() []ModelInfo {
	out := make([]ModelInfo, len(catalog))
	copy(out, catalog)
	return out
}

// LookupModel returns the catalog entry with the given ID.
func LookupModel(id string) (ModelInfo, bool) {
	for _, m := range catalog {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}
