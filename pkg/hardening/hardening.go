package hardening

import (
	"fmt"
	"net"
	"strings"
)

type EnvRequirement struct {
	Name  string
	Value string
}

type Options struct {
	Service               string
	Environment           string
	StrictProdSecurity    string
	StoreBackend          string
	DatabaseURL           string
	DatabaseRequireTLS    string
	RedisAddr             string
	RedisRequireTLS       string
	RedisTLSInsecure      string
	RedisAllowInsecureTLS string
	AdminAddr             string
	AdminToken            string
	OTELInsecure          string
	RequiredSecrets       []EnvRequirement
}

// ValidateProduction refuses insecure settings when ENVIRONMENT names a
// production-like deployment and STRICT_PROD_SECURITY is not disabled.
func ValidateProduction(o Options) error {
	if !isProductionLikeEnv(o.Environment) {
		return nil
	}
	if !isTrue(o.StrictProdSecurity, true) {
		return nil
	}
	service := strings.TrimSpace(o.Service)
	if service == "" {
		service = "likegate"
	}
	usesPostgres := strings.EqualFold(strings.TrimSpace(o.StoreBackend), "postgres") || strings.TrimSpace(o.DatabaseURL) != ""
	if usesPostgres && !isTrue(o.DatabaseRequireTLS, false) {
		return fmt.Errorf("%s: strict production hardening requires DATABASE_REQUIRE_TLS=true", service)
	}
	if strings.TrimSpace(o.RedisAddr) != "" {
		if !isTrue(o.RedisRequireTLS, false) {
			return fmt.Errorf("%s: strict production hardening requires REDIS_REQUIRE_TLS=true", service)
		}
		if isTrue(o.RedisTLSInsecure, false) || isTrue(o.RedisAllowInsecureTLS, false) {
			return fmt.Errorf("%s: strict production hardening forbids REDIS_TLS_INSECURE/REDIS_ALLOW_INSECURE_TLS", service)
		}
	}
	if err := validateAdminListener(o.AdminAddr, o.AdminToken, service); err != nil {
		return err
	}
	if isTrue(o.OTELInsecure, false) {
		return fmt.Errorf("%s: strict production hardening forbids OTEL_EXPORTER_OTLP_INSECURE=true", service)
	}
	for _, req := range o.RequiredSecrets {
		if strings.TrimSpace(req.Name) == "" {
			continue
		}
		if strings.TrimSpace(req.Value) == "" {
			return fmt.Errorf("%s: strict production hardening requires %s", service, req.Name)
		}
	}
	return nil
}

func validateAdminListener(addr, token, service string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	if len(strings.TrimSpace(token)) < 16 {
		return fmt.Errorf("%s: strict production hardening requires ADMIN_AUTH_TOKEN of at least 16 characters when ADMIN_ADDR is set", service)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s: invalid ADMIN_ADDR %q: %v", service, addr, err)
	}
	return nil
}

func isTrue(raw string, def bool) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return def
	}
	return strings.EqualFold(trimmed, "true")
}

func isProductionLikeEnv(raw string) bool {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "prod", "production", "staging", "stage":
		return true
	default:
		return false
	}
}
