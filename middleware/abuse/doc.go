// Package abuse fornece o gatekeeper HTTP (net/http) do detector adaptativo
// de abuso: limiters de janela fixa + classificador de cadência por cliente
// + rastreio de falhas, compostos em uma única decisão de admissão.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (classificação, trip-wire, janelas) sem net/http
//   - infra: implementações concretas (stores em memória, token bucket, Redis)
//   - abuse (este pacote): middleware HTTP + extração de chave + tradução
//     para status/headers/corpo estruturado
//
// Fluxo em uma rota protegida:
//
//  1. Extrai a chave do cliente (IP/header/XFF, opcionalmente salgada com
//     fragmento do User-Agent)
//  2. Consulta os limiters de janela fixa (mais baratos primeiro)
//  3. Consulta o trip-wire e o classificador de cadência (endpoint sensível)
//  4. Se rejeitado, responde 429 com corpo estruturado {success, code,
//     message, retryAfter}; nenhum handler é invocado
//  5. Se permitido, chama o próximo handler e registra o status final no
//     rastreador de falhas (interceptor de resposta, nunca monkey-patch)
//
// Qualquer pânico dentro da avaliação é recuperado e a requisição segue
// para o handler (fail-open): o detector é camada defensiva, não fronteira
// de segurança, e não pode virar risco de disponibilidade.
package abuse
