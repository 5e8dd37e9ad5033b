// Package application concentra os casos de uso do detector de abuso
// (classificação de cadência, rastreio de falhas, limites de janela),
// sem saber nada sobre HTTP.
package application
