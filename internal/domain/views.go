package domain

// SessionSummary is a row of the lecturer's session list.
type SessionSummary struct {
	Session
	Participants int `json:"participants"`
}

// SessionSnapshot is the full read used for initial render and reconnects.
type SessionSnapshot struct {
	Session
	Course           *Course           `json:"course"`
	Students         []StudentSession  `json:"students"`
	Questions        []Question        `json:"questions"`
	StudentQuestions []StudentQuestion `json:"studentQuestions"`
}

// LiveQuestion is a launched question with its derived countdown.
type LiveQuestion struct {
	Question
	TimeRemaining int `json:"timeRemaining"`
}

// StudentSnapshot is the student-facing view: Questions holds at most the
// current question, which is also exposed with its countdown.
type StudentSnapshot struct {
	SessionSnapshot
	CurrentQuestion *LiveQuestion `json:"currentQuestion"`
}

// JoinResult is returned to a student after joining.
type JoinResult struct {
	SessionID        string `json:"sessionId"`
	StudentSessionID string `json:"studentSessionId"`
}

// StudentStats is a student's progress through the session.
type StudentStats struct {
	Answered int `json:"answered"`
	Total    int `json:"total"`
}

// QuestionRate is the share of participants that answered a question.
type QuestionRate struct {
	ID           string  `json:"id"`
	Text         string  `json:"text"`
	ResponseRate float64 `json:"responseRate"`
}

// PollSlice is one answer's share of the exit poll, in percent.
type PollSlice struct {
	Name  PollAnswer `json:"name"`
	Value float64    `json:"value"`
}

// TopQuestion is a highly upvoted student question.
type TopQuestion struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Upvotes    int    `json:"upvotes"`
	IsAnswered bool   `json:"isAnswered"`
}

// Analytics summarises an ended session.
type Analytics struct {
	Title        string         `json:"title"`
	Date         string         `json:"date"`
	Duration     string         `json:"duration"`
	Participants int            `json:"participants"`
	Questions    []QuestionRate `json:"questions"`
	PollResults  []PollSlice    `json:"pollResults"`
	TopQuestions []TopQuestion  `json:"topQuestions"`
}
