// Package policy descreve, de forma declarativa, quais classes de rota
// existem, os pares janela/teto de cada classe e os limiares do detector.
//
// A tabela é resolvida uma única vez no registro das rotas; nenhuma
// decisão de teto é tomada por branch de path em tempo de requisição.
// Pode ser carregada de um arquivo YAML ou usada com os padrões.
package policy
