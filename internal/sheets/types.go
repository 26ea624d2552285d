package sheets

// Spreadsheet is the opened handle for one spreadsheet file: identity,
// worksheet properties, and any developer metadata stamped on the file.
type Spreadsheet struct {
	ID                string
	Title             string
	Sheets            []SheetProperties
	DeveloperMetadata []DeveloperMetadata
}

// FirstSheetTitle returns the title of the first worksheet, or "" when
// the spreadsheet has none.
func (s *Spreadsheet) FirstSheetTitle() string {
	if len(s.Sheets) == 0 {
		return ""
	}
	return s.Sheets[0].Title
}

// MetadataValue returns the value of the developer-metadata entry with
// the given key, or "" if absent.
func (s *Spreadsheet) MetadataValue(key string) string {
	for _, md := range s.DeveloperMetadata {
		if md.Key == key {
			return md.Value
		}
	}
	return ""
}

// SheetProperties identifies one worksheet inside a spreadsheet.
type SheetProperties struct {
	SheetID int64
	Title   string
	Index   int
}

// ValueRange is one contiguous block of cell values addressed in A1
// notation, used for both reads and batched writes.
type ValueRange struct {
	Range  string
	Values [][]string
}

// DeveloperMetadata is a key/value annotation on the spreadsheet file
// itself, separate from cell contents.
type DeveloperMetadata struct {
	ID    int64
	Key   string
	Value string
}

// WatchChannel describes a push-notification channel registered against
// a file. ExpirationMillis is epoch milliseconds, per the Drive API.
type WatchChannel struct {
	ID               string
	ResourceID       string
	ExpirationMillis int64
}

// ---- wire types (Google Sheets / Drive response shapes) ----

type spreadsheetResponse struct {
	SpreadsheetID string `json:"spreadsheetId"`
	Properties    struct {
		Title string `json:"title"`
	} `json:"properties"`
	Sheets []struct {
		Properties struct {
			SheetID int64  `json:"sheetId"`
			Title   string `json:"title"`
			Index   int    `json:"index"`
		} `json:"properties"`
	} `json:"sheets"`
	DeveloperMetadata []struct {
		MetadataID    int64  `json:"metadataId"`
		MetadataKey   string `json:"metadataKey"`
		MetadataValue string `json:"metadataValue"`
	} `json:"developerMetadata"`
}

type valuesResponse struct {
	Range  string  `json:"range"`
	Values [][]any `json:"values"`
}

type batchUpdateValuesRequest struct {
	ValueInputOption string           `json:"valueInputOption"`
	Data             []wireValueRange `json:"data"`
}

type wireValueRange struct {
	Range  string  `json:"range"`
	Values [][]any `json:"values"`
}

type watchRequest struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Address    string `json:"address"`
	Expiration int64  `json:"expiration,omitempty"`
}

type watchResponse struct {
	ID         string `json:"id"`
	ResourceID string `json:"resourceId"`
	Expiration string `json:"expiration"`
}
