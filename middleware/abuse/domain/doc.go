// Package domain define contratos e tipos de domínio do detector de abuso.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar a regra de
// classificação (cadência, falhas, janelas) de detalhes de infraestrutura.
package domain
