package enums

import "fmt"

// QualityGrade is the optional grading of a batch; batches without one land in QualityUngraded.
type QualityGrade string

const (
	QualityAAA QualityGrade = "AAA"
	QualityAA  QualityGrade = "AA"
	QualityA   QualityGrade = "A"
	QualityB   QualityGrade = "B"
	QualityC   QualityGrade = "C"

	// QualityUngraded is a hierarchy bucket only; it is never stored on a batch.
	QualityUngraded QualityGrade = "ungraded"
)

var validQualityGrades = []QualityGrade{
	QualityAAA,
	QualityAA,
	QualityA,
	QualityB,
	QualityC,
}

// IsValid reports whether the value is a storable grade.
func (q QualityGrade) IsValid() bool {
	for _, candidate := range validQualityGrades {
		if candidate == q {
			return true
		}
	}
	return false
}

// Rank orders grades best first with the ungraded bucket last.
func (q QualityGrade) Rank() int {
	for i, candidate := range validQualityGrades {
		if candidate == q {
			return i
		}
	}
	return len(validQualityGrades)
}

// ParseQualityGrade converts raw input into QualityGrade, accepting the ungraded bucket name.
func ParseQualityGrade(value string) (QualityGrade, error) {
	if value == string(QualityUngraded) {
		return QualityUngraded, nil
	}
	for _, candidate := range validQualityGrades {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid quality grade %q", value)
}
