package domain

// Event names emitted on a session's broadcast channel.
const (
	EventStudentUpdate         = "studentUpdate"
	EventStudentKicked         = "studentKicked"
	EventQuestionLaunched      = "questionLaunched"
	EventQuestionResponse      = "questionResponse"
	EventQuestionResults       = "questionResults"
	EventStudentQuestionUpdate = "studentQuestionUpdate"
	EventSessionEnded          = "sessionEnded"
)

// Event is a one-way notification for every socket subscribed to a session.
type Event struct {
	Name    string
	Payload any
}

// QuestionResponsePayload streams a partial result as soon as an answer lands.
type QuestionResponsePayload struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
}

// QuestionResultsPayload carries the final tally of a closed question.
type QuestionResultsPayload struct {
	QuestionID string         `json:"questionId"`
	Results    map[string]int `json:"results"`
}

// StudentKickedPayload lets the removed client recognise itself.
type StudentKickedPayload struct {
	StudentID string `json:"studentId"`
}

// SessionEndedPayload is sent once a session ends.
type SessionEndedPayload struct {
	SessionID string `json:"sessionId"`
}

// Tally counts responses per distinct answer.
func Tally(responses []Response) map[string]int {
	results := make(map[string]int, len(responses))
	for _, r := range responses {
		results[r.Answer]++
	}
	return results
}
