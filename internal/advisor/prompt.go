package advisor

import (
	"fmt"
	"strings"
)

// UserType selects the audience the advisor talks to.
type UserType string

const (
	// JobSeeker is a person looking for career guidance or a new role.
	JobSeeker UserType = "jobseeker"
	// Recruiter is a person hiring for an open position.
	Recruiter UserType = "recruiter"
)

// ParseUserType parses a user type case-insensitively. An empty string
// yields [JobSeeker].
func ParseUserType(s string) (UserType, error) {
	switch UserType(strings.ToLower(strings.TrimSpace(s))) {
	case "", JobSeeker:
		return JobSeeker, nil
	case Recruiter:
		return Recruiter, nil
	default:
		return "", fmt.Errorf("advisor: unknown user type %q", s)
	}
}

const advisorSystemPrompt = `You are a professional and empathetic Career Advisor AI. Your role is to help users with career-related guidance including:
- Resume and CV advice
- Job search strategies
- Interview preparation
- Career transitions and pivots
- Skill development recommendations
- Workplace challenges
- Salary negotiation tips
- Professional networking guidance

Be warm, encouraging, and practical in your advice. Ask clarifying questions when needed to provide more personalized guidance. Keep responses conversational and focused.`

const recruiterSystemPrompt = `You are a professional Talent Advisor AI supporting recruiters and hiring managers. Your role is to help with:
- Defining the role and the skills it really requires
- Writing clear, inclusive job descriptions
- Sourcing strategies and candidate outreach
- Structuring interviews and evaluating candidates
- Compensation benchmarking and offers

Be concise and practical. Ask about the role, team and must-have skills before making recommendations. Keep responses conversational and focused.`

const jobSeekerGreeting = `Greet me as my career advisor in two or three sentences. Introduce yourself briefly and ask what I would like help with today, for example my resume, a job search or an upcoming interview.`

const recruiterGreeting = `Greet me as my talent advisor in two or three sentences. Introduce yourself briefly and ask which role I am hiring for and what skills matter most.`

// SystemPrompt returns the system instructions for u. Unknown values fall
// back to the job seeker prompt.
func SystemPrompt(u UserType) string {
	if u == Recruiter {
		return recruiterSystemPrompt
	}
	return advisorSystemPrompt
}

// GreetingPrompt returns the user turn that asks the model to open the
// conversation.
func GreetingPrompt(u UserType) string {
	if u == Recruiter {
		return recruiterGreeting
	}
	return jobSeekerGreeting
}
