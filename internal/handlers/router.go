package handlers

import (
	"net/http"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	auth *AuthHandler,
	account *AccountHandler,
	creditLedger *LedgerHandler,
	operations *OperationsHandler,
	admin *AdminHandler,
	authMiddleware func(http.Handler) http.Handler,
	adminMiddleware func(http.Handler) http.Handler,
	loggerMiddleware func(http.Handler) http.Handler,
) http.Handler {
	api := http.NewServeMux()

	api.Handle("/auth/", http.StripPrefix("/auth", auth.Handler()))
	api.Handle("/account/", http.StripPrefix("/account", chain(account.Handler(), authMiddleware)))
	api.Handle("/ledger/", http.StripPrefix("/ledger", chain(creditLedger.Handler(), authMiddleware)))
	api.Handle("/operations/", http.StripPrefix("/operations", chain(operations.Handler(), authMiddleware)))
	api.Handle("/admin/", http.StripPrefix("/admin", chain(admin.Handler(), authMiddleware, adminMiddleware)))

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))

	return chain(root, loggerMiddleware)
}
