package policy

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Class é a classe de limitação de uma rota.
type Class string

const (
	// ClassAuth: login/registro. Teto apertado, só falhas consomem.
	ClassAuth Class = "auth"
	// ClassSession: checagem de sessão (/me), chamada passivamente por
	// frontends, teto mais frouxo mas com detector de loop.
	ClassSession Class = "session"
	// ClassAPI: resto do tráfego, backstop contra abuso grosseiro.
	ClassAPI Class = "api"
	// ClassStrict: operações explicitamente sensíveis.
	ClassStrict Class = "strict"
)

// Duration embrulha time.Duration para aceitar strings tipo "500ms" no YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("duração inválida %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) D() time.Duration { return time.Duration(d) }

// Window é um par janela/teto de um limiter de janela fixa.
type Window struct {
	Window Duration `yaml:"window"`
	Limit  int      `yaml:"limit"`
}

// Detector são os limiares do classificador de cadência.
type Detector struct {
	Burst           Duration `yaml:"burst"`
	CoolDown        Duration `yaml:"coolDown"`
	EscalationLimit int      `yaml:"escalationLimit"`
	BlockDuration   Duration `yaml:"blockDuration"`
}

// Tripwire é a janela bruta de segunda linha do caminho protegido.
type Tripwire struct {
	Limit  int      `yaml:"limit"`
	Window Duration `yaml:"window"`
	Block  Duration `yaml:"block"`
}

// Progressive configura o limiter de teto dinâmico.
type Progressive struct {
	Window          Duration `yaml:"window"`
	Base            int      `yaml:"base"`
	Reduced         int      `yaml:"reduced"`
	Floor           int      `yaml:"floor"`
	ReducedAfter    int      `yaml:"reducedAfter"`
	FloorAfter      int      `yaml:"floorAfter"`
	ViolationWindow Duration `yaml:"violationWindow"`
}

// Rule amarra um prefixo de rota a uma classe.
type Rule struct {
	Prefix string `yaml:"prefix"`
	Class  Class  `yaml:"class"`
}

// Table é a tabela declarativa completa.
type Table struct {
	Detector     Detector         `yaml:"detector"`
	LoopDetector Detector         `yaml:"loopDetector"`
	Tripwire     Tripwire         `yaml:"tripwire"`
	Progressive  Progressive      `yaml:"progressive"`
	Classes      map[Class]Window `yaml:"classes"`
	Routes       []Rule           `yaml:"routes"`

	HintThreshold int      `yaml:"hintThreshold"`
	SweepEvery    Duration `yaml:"sweepEvery"`
	Retention     Duration `yaml:"retention"`
}

// Default devolve a tabela de referência do backend de notícias.
func Default() Table {
	return Table{
		Detector: Detector{
			Burst:           Duration(1 * time.Second),
			CoolDown:        Duration(5 * time.Second),
			EscalationLimit: 5,
			BlockDuration:   Duration(60 * time.Second),
		},
		LoopDetector: Detector{
			Burst:           Duration(500 * time.Millisecond),
			CoolDown:        Duration(2 * time.Second),
			EscalationLimit: 5,
			BlockDuration:   Duration(30 * time.Second),
		},
		Tripwire: Tripwire{
			Limit:  10,
			Window: Duration(60 * time.Second),
			Block:  Duration(5 * time.Minute),
		},
		Progressive: Progressive{
			Window:          Duration(1 * time.Minute),
			Base:            30,
			Reduced:         10,
			Floor:           5,
			ReducedAfter:    1,
			FloorAfter:      3,
			ViolationWindow: Duration(15 * time.Minute),
		},
		Classes: map[Class]Window{
			ClassAuth:    {Window: Duration(15 * time.Minute), Limit: 5},
			ClassSession: {Window: Duration(1 * time.Minute), Limit: 10},
			ClassAPI:     {Window: Duration(15 * time.Minute), Limit: 1000},
			ClassStrict:  {Window: Duration(15 * time.Minute), Limit: 3},
		},
		Routes: []Rule{
			{Prefix: "/api/auth/me", Class: ClassSession},
			{Prefix: "/api/auth", Class: ClassAuth},
			{Prefix: "/api/admin", Class: ClassStrict},
			{Prefix: "/api", Class: ClassAPI},
		},
		HintThreshold: 3,
		SweepEvery:    Duration(5 * time.Minute),
		Retention:     Duration(1 * time.Hour),
	}
}

// Load lê uma tabela de um arquivo YAML, por cima dos padrões: campos
// omitidos ficam com os valores de Default.
func Load(path string) (Table, error) {
	t := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("lendo policy %q: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Table{}, fmt.Errorf("parseando policy %q: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

// Validate rejeita tabelas sem sentido (tetos não-positivos, banda de
// histerese invertida).
func (t Table) Validate() error {
	for _, det := range []Detector{t.Detector, t.LoopDetector} {
		if det.Burst.D() <= 0 || det.CoolDown.D() <= 0 {
			return fmt.Errorf("limiar de rajada/resfriamento deve ser > 0")
		}
		if det.CoolDown.D() < det.Burst.D() {
			return fmt.Errorf("coolDown (%s) menor que burst (%s)", det.CoolDown.D(), det.Burst.D())
		}
		if det.EscalationLimit <= 0 || det.BlockDuration.D() <= 0 {
			return fmt.Errorf("escalationLimit e blockDuration devem ser > 0")
		}
	}
	for class, w := range t.Classes {
		if w.Limit <= 0 || w.Window.D() <= 0 {
			return fmt.Errorf("classe %q com janela/teto inválidos", class)
		}
	}
	for _, r := range t.Routes {
		if _, ok := t.Classes[r.Class]; !ok {
			return fmt.Errorf("rota %q aponta para classe desconhecida %q", r.Prefix, r.Class)
		}
	}
	return nil
}

// ClassFor resolve a classe de um path pelo prefixo mais específico.
// Chamada no registro das rotas, não por requisição.
func (t Table) ClassFor(path string) Class {
	best := ClassAPI
	bestLen := -1
	for _, r := range t.Routes {
		if strings.HasPrefix(path, r.Prefix) && len(r.Prefix) > bestLen {
			best = r.Class
			bestLen = len(r.Prefix)
		}
	}
	return best
}
