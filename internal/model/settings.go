package model

import "encoding/json"

// Settings holds the credentials, counters and delivery configuration that
// survive across sessions.
type Settings struct {
	AdminPINHash   string       `json:"admin_pin_hash"`
	MasterPINHash  string       `json:"master_pin_hash"`
	PINsMustChange bool         `json:"pins_must_change"`
	PINErrorCount  int          `json:"pin_error_count"`
	PINLockUntil   *float64     `json:"pin_lock_until_ts"`
	ReportSeq      int          `json:"report_seq"`
	ExportDir      *string      `json:"export_dir"`
	SMTP           SMTPSettings `json:"smtp"`
}

type SMTPSettings struct {
	Enabled    bool     `json:"enabled"`
	Host       string   `json:"host"`
	Port       int      `json:"port"`
	TLS        bool     `json:"tls"`
	SSL        bool     `json:"ssl"`
	User       string   `json:"user"`
	Password   string   `json:"password"`
	Recipients []string `json:"recipients"`
}

// legacySMTP is the flat layout of the mail settings in older settings files.
type legacySMTP struct {
	Enabled    *bool     `json:"smtp_enabled"`
	Host       *string   `json:"smtp_host"`
	Port       *int      `json:"smtp_port"`
	TLS        *bool     `json:"smtp_tls"`
	SSL        *bool     `json:"smtp_ssl"`
	User       *string   `json:"smtp_user"`
	Password   *string   `json:"smtp_pass_app"`
	Recipients *[]string `json:"smtp_recipients"`
}

func (l legacySMTP) applyTo(c *SMTPSettings) {
	if l.Enabled != nil {
		c.Enabled = *l.Enabled
	}
	if l.Host != nil {
		c.Host = *l.Host
	}
	if l.Port != nil {
		c.Port = *l.Port
	}
	if l.TLS != nil {
		c.TLS = *l.TLS
	}
	if l.SSL != nil {
		c.SSL = *l.SSL
	}
	if l.User != nil {
		c.User = *l.User
	}
	if l.Password != nil {
		c.Password = *l.Password
	}
	if l.Recipients != nil {
		c.Recipients = *l.Recipients
	}
}

// UnmarshalJSON folds the flat smtp_* keys of older settings files into
// SMTP when the document has no smtp object.
func (s *Settings) UnmarshalJSON(data []byte) error {
	type plain Settings
	aux := struct {
		*plain
		SMTP *json.RawMessage `json:"smtp"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.SMTP != nil {
		return json.Unmarshal(*aux.SMTP, &s.SMTP)
	}
	var legacy legacySMTP
	if err := json.Unmarshal(data, &legacy); err != nil {
		return err
	}
	legacy.applyTo(&s.SMTP)
	return nil
}

// DefaultSettings is written on first run. The PIN hashes are supplied by
// the caller so the digest stays owned by the guard.
func DefaultSettings(adminHash, masterHash string) Settings {
	return Settings{
		AdminPINHash:   adminHash,
		MasterPINHash:  masterHash,
		PINsMustChange: true,
		ReportSeq:      1,
		SMTP: SMTPSettings{
			Port:       587,
			TLS:        true,
			Recipients: []string{},
		},
	}
}

// Ready reports whether mail delivery is configured enough to attempt.
func (s SMTPSettings) Ready() bool {
	return s.Enabled && s.Host != "" && len(s.Recipients) > 0
}
