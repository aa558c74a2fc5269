package scoring

import "fmt"

// NoCandidatesError is returned when every strategy bucket is empty after
// exclusions. It is recoverable: relax exclusions or rate more entries.
type NoCandidatesError struct {
	CatalogSize int
	Excluded    int
}

func (e *NoCandidatesError) Error() string {
	return fmt.Sprintf("no candidates left (%d catalog entries, %d excluded)", e.CatalogSize, e.Excluded)
}
