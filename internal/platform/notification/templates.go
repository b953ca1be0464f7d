package notification

import (
	"fmt"
	"strings"
	"sync"
)

// Template defines a reusable notification template.
type Template struct {
	Kind    Kind
	Subject string
	Body    string
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[Kind]Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[Kind]Template)}
	for _, t := range builtIn {
		e.templates[t.Kind] = t
	}
	return e
}

var builtIn = []Template{
	{
		Kind:    KindEmailVerification,
		Subject: "Verify Your Email - Hospital Management System",
		Body: "Hello {{first_name}},\n\n" +
			"Thank you for registering. Please verify your email address to activate your account:\n\n" +
			"{{frontend_url}}/verify-email?token={{token}}\n\n" +
			"If you didn't create this account, you can safely ignore this email.",
	},
	{
		Kind:    KindPasswordReset,
		Subject: "Reset Your Password - Hospital Management System",
		Body: "Hello {{first_name}},\n\n" +
			"You requested a password reset. Use the link below to choose a new password:\n\n" +
			"{{frontend_url}}/reset-password?token={{token}}\n\n" +
			"This link will expire in 1 hour. If you didn't request this, you can safely ignore this email.",
	},
	{
		Kind:    KindWelcome,
		Subject: "Welcome to {{tenant_name}}",
		Body: "Hello {{first_name}},\n\n" +
			"Your account at {{tenant_name}} is now active. Sign in at {{frontend_url}}/login.",
	},
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.Kind] = t
}

// Render performs {{key}} replacement on the template for kind. Keys present
// in the template but absent from data are left as-is.
func (e *TemplateEngine) Render(kind Kind, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[kind]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", kind)
	}

	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Subject), r.Replace(t.Body), nil
}
