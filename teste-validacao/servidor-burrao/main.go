package main

import (
	"fmt"
	"net/http"
)

// Upstream "burrão" para validar o gateway na mão: o /api/auth/me sempre
// devolve 401, reproduzindo um frontend travado re-tentando a checagem de
// sessão em loop, exatamente o padrão que o detector deve bloquear.
func main() {
	http.HandleFunc("/api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintf(w, `{"success":false,"message":"sessão expirada"}`)
		fmt.Println("Log: checagem de sessão recebida (sempre 401)")
	})
	http.HandleFunc("/api/articles", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		fmt.Fprintf(w, `{"success":true,"items":[]}`)
	})
	fmt.Println("Upstream de validação rodando em http://localhost:9090")
	err := http.ListenAndServe(":9090", nil)
	if err != nil {
		fmt.Printf("Erro ao subir o servidor: %s\n", err)
	}
}
