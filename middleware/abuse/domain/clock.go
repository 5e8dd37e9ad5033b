package domain

import "time"

// Clock é a fonte de tempo usada em toda a aritmética de intervalos
// (gaps entre requisições, expiração de bloqueio, janelas).
//
// Abstraído como interface para os testes poderem avançar o relógio
// manualmente, sem time.Sleep.
type Clock interface {
	Now() time.Time
}
