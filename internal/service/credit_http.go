package service

import (
	"context"
	"encoding/json"
	nethttp "net/http"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/transport/http"
)

const (
	OperationCreditServiceGetAccount         = "/credit.v1.CreditService/GetAccount"
	OperationCreditServiceGetBalance         = "/credit.v1.CreditService/GetBalance"
	OperationCreditServiceEstimate           = "/credit.v1.CreditService/Estimate"
	OperationCreditServiceListLedger         = "/credit.v1.CreditService/ListLedger"
	OperationCreditServiceListPlans          = "/credit.v1.CreditService/ListPlans"
	OperationCreditServiceApplySubscription  = "/credit.v1.CreditService/ApplySubscription"
	OperationCreditServiceCancelSubscription = "/credit.v1.CreditService/CancelSubscription"
	OperationCreditServiceGetUsageStats      = "/credit.v1.CreditService/GetUsageStats"

	OperationCreditInternalServiceInitAccount    = "/credit.v1.CreditInternalService/InitAccount"
	OperationCreditInternalServiceReserve        = "/credit.v1.CreditInternalService/Reserve"
	OperationCreditInternalServiceSettle         = "/credit.v1.CreditInternalService/Settle"
	OperationCreditInternalServiceRefund         = "/credit.v1.CreditInternalService/Refund"
	OperationCreditInternalServiceGetReservation = "/credit.v1.CreditInternalService/GetReservation"
	OperationCreditInternalServiceInvoke         = "/credit.v1.CreditInternalService/Invoke"
	OperationCreditInternalServiceInvokeStream   = "/credit.v1.CreditInternalService/InvokeStream"
	OperationCreditInternalServiceGrant          = "/credit.v1.CreditInternalService/Grant"
	OperationCreditInternalServiceVerifyLedger   = "/credit.v1.CreditInternalService/VerifyLedger"
)

// RegisterCreditServiceHTTPServer 注册面向前端的路由
func RegisterCreditServiceHTTPServer(s *http.Server, srv *CreditService) {
	r := s.Route("/")
	r.GET("/v1/credit/account/{user_id}", handle(OperationCreditServiceGetAccount, bindVarsQuery[GetAccountRequest], srv.GetAccount))
	r.GET("/v1/credit/balance/{user_id}", handle(OperationCreditServiceGetBalance, bindVarsQuery[GetBalanceRequest], srv.GetBalance))
	r.GET("/v1/credit/estimate", handle(OperationCreditServiceEstimate, bindVarsQuery[EstimateRequest], srv.Estimate))
	r.GET("/v1/credit/ledger/{user_id}", handle(OperationCreditServiceListLedger, bindVarsQuery[ListLedgerRequest], srv.ListLedger))
	r.GET("/v1/credit/plans", handle(OperationCreditServiceListPlans, bindVarsQuery[ListPlansRequest], srv.ListPlans))
	r.POST("/v1/credit/subscription", handle(OperationCreditServiceApplySubscription, bindBody[ApplySubscriptionRequest], srv.ApplySubscription))
	r.POST("/v1/credit/subscription/{user_id}/cancel", handle(OperationCreditServiceCancelSubscription, bindBodyVars[CancelSubscriptionRequest], srv.CancelSubscription))
	r.GET("/v1/credit/stats/{user_id}", handle(OperationCreditServiceGetUsageStats, bindVarsQuery[GetUsageStatsRequest], srv.GetUsageStats))
}

// RegisterCreditInternalServiceHTTPServer 注册内部路由
func RegisterCreditInternalServiceHTTPServer(s *http.Server, srv *CreditInternalService) {
	r := s.Route("/")
	r.POST("/internal/v1/credit/account/{user_id}/init", handle(OperationCreditInternalServiceInitAccount, bindBodyVars[InitAccountRequest], srv.InitAccount))
	r.POST("/internal/v1/credit/reserve", handle(OperationCreditInternalServiceReserve, bindBody[ReserveRequest], srv.Reserve))
	r.POST("/internal/v1/credit/reservation/{reservation_id}/settle", handle(OperationCreditInternalServiceSettle, bindBodyVars[SettleRequest], srv.Settle))
	r.POST("/internal/v1/credit/reservation/{reservation_id}/refund", handle(OperationCreditInternalServiceRefund, bindBodyVars[RefundRequest], srv.Refund))
	r.GET("/internal/v1/credit/reservation/{reservation_id}", handle(OperationCreditInternalServiceGetReservation, bindVarsQuery[GetReservationRequest], srv.GetReservation))
	r.POST("/internal/v1/credit/invoke", handle(OperationCreditInternalServiceInvoke, bindBody[InvokeRequest], srv.Invoke))
	r.POST("/internal/v1/credit/invoke/stream", _CreditInternalService_InvokeStream_HTTP_Handler(srv))
	r.POST("/internal/v1/credit/grant", handle(OperationCreditInternalServiceGrant, bindBody[GrantRequest], srv.Grant))
	r.GET("/internal/v1/credit/ledger/{user_id}/verify", handle(OperationCreditInternalServiceVerifyLedger, bindVarsQuery[VerifyLedgerRequest], srv.VerifyLedger))
}

func bindBody[T any](ctx http.Context) (*T, error) {
	var in T
	if err := ctx.Bind(&in); err != nil {
		return nil, err
	}
	return &in, nil
}

func bindBodyVars[T any](ctx http.Context) (*T, error) {
	var in T
	if err := ctx.Bind(&in); err != nil {
		return nil, err
	}
	if err := ctx.BindVars(&in); err != nil {
		return nil, err
	}
	return &in, nil
}

func bindVarsQuery[T any](ctx http.Context) (*T, error) {
	var in T
	if err := ctx.BindQuery(&in); err != nil {
		return nil, err
	}
	if err := ctx.BindVars(&in); err != nil {
		return nil, err
	}
	return &in, nil
}

// handle 绑定请求、经过中间件调用 fn 并写回 JSON
func handle[Req, Reply any](operation string, bind func(http.Context) (*Req, error), fn func(context.Context, *Req) (*Reply, error)) http.HandlerFunc {
	return func(ctx http.Context) error {
		in, err := bind(ctx)
		if err != nil {
			return err
		}
		http.SetOperation(ctx, operation)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(ctx, req.(*Req))
		})
		out, err := h(ctx, in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

// _CreditInternalService_InvokeStream_HTTP_Handler 以 NDJSON 逐行写回上游 chunk，最后一行为结算结果
func _CreditInternalService_InvokeStream_HTTP_Handler(srv *CreditInternalService) http.HandlerFunc {
	return func(ctx http.Context) error {
		var in InvokeRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationCreditInternalServiceInvokeStream)

		w := ctx.Response()
		flusher, _ := w.(nethttp.Flusher)
		started := false
		writeLine := func(v interface{}) error {
			if !started {
				w.Header().Set("Content-Type", "application/x-ndjson")
				w.WriteHeader(nethttp.StatusOK)
				started = true
			}
			if err := json.NewEncoder(w).Encode(v); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
			return nil
		}

		reply, err := srv.InvokeStream(ctx.Request().Context(), &in, func(chunk []byte) error {
			return writeLine(map[string]json.RawMessage{"chunk": chunk})
		})
		if err != nil {
			if !started {
				return err
			}
			se := errors.FromError(err)
			return writeLine(map[string]interface{}{"error": se.Message, "reason": se.Reason, "code": se.Code})
		}
		return writeLine(map[string]interface{}{"done": reply})
	}
}
