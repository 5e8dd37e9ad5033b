package abuse

import (
	"net"
	"net/http"
	"strings"
)

// KeyFunc deriva a chave de identidade do cliente a partir da requisição.
// Identidade é melhor-esforço: não há garantia criptográfica de unicidade.
type KeyFunc func(r *http.Request) string

// DefaultKeyFunc resolve a chave na ordem: header configurado,
// X-Forwarded-For (se confiável), host do RemoteAddr. Nunca falha:
// sem endereço disponível, devolve a sentinela "unknown".
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				parts := strings.Split(xff, ",")
				if len(parts) > 0 {
					ip := strings.TrimSpace(parts[0])
					if ip != "" {
						return ip
					}
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// WithSignature salga a chave com um fragmento truncado do User-Agent,
// separando clientes distintos atrás do mesmo NAT. Usar ou não o fragmento
// é escolha de política por rota, não regra fixa do algoritmo.
func WithSignature(base KeyFunc, fragmentLen int) KeyFunc {
	if fragmentLen <= 0 {
		return base
	}
	return func(r *http.Request) string {
		key := base(r)
		ua := strings.TrimSpace(r.UserAgent())
		if ua == "" {
			return key
		}
		if len(ua) > fragmentLen {
			ua = ua[:fragmentLen]
		}
		return key + "|" + ua
	}
}
