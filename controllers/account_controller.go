package controllers

import (
	"log/slog"
	"time"

	"sharedrive/services"
	"sharedrive/utils"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// AccountController serves the caller's profile, quota position and coupon
// redemption, plus admin coupon creation.
type AccountController struct {
	userService   *services.UserService
	ledger        *services.QuotaLedger
	couponService *services.CouponService
	validator     *validator.Validate
	logger        *slog.Logger
}

func NewAccountController(userService *services.UserService, ledger *services.QuotaLedger, couponService *services.CouponService, logger *slog.Logger) *AccountController {
	return &AccountController{
		userService:   userService,
		ledger:        ledger,
		couponService: couponService,
		validator:     validator.New(),
		logger:        logger,
	}
}

type RedeemCouponRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

type CreateCouponRequest struct {
	Code string `json:"code" validate:"required,alphanum,max=64"`
	// Credit is a byte size such as "5GB" or "512 MiB".
	Credit    string     `json:"credit" validate:"required"`
	MaxUses   int64      `json:"max_uses" validate:"required,min=1"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// GetProfile returns the caller's profile, creating it on first use.
func (ac *AccountController) GetProfile(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	user, err := ac.userService.EnsureProfile(c.Request.Context(), services.Identity{
		UserID: userID,
		Email:  c.GetString("email"),
		Name:   c.GetString("name"),
		Role:   c.GetString("role"),
	})
	if err != nil {
		utils.HandleServiceError(c, ac.logger, err)
		return
	}
	utils.SuccessResponse(c, "Profile retrieved", user)
}

func (ac *AccountController) GetQuota(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	status, err := ac.ledger.Status(c.Request.Context(), userID)
	if err != nil {
		utils.HandleServiceError(c, ac.logger, err)
		return
	}
	utils.SuccessResponse(c, "Quota retrieved", status)
}

func (ac *AccountController) RedeemCoupon(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var req RedeemCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}
	if err := ac.validator.Struct(req); err != nil {
		utils.BadRequestResponse(c, "Validation failed", err.Error())
		return
	}

	redemption, err := ac.couponService.Redeem(c.Request.Context(), userID, req.Code)
	if err != nil {
		utils.HandleServiceError(c, ac.logger, err)
		return
	}
	utils.SuccessResponse(c, "Coupon redeemed", gin.H{
		"redemption":     redemption,
		"credited_human": humanize.IBytes(uint64(redemption.CreditedBytes)),
	})
}

func (ac *AccountController) CreateCoupon(c *gin.Context) {
	var req CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}
	if err := ac.validator.Struct(req); err != nil {
		utils.BadRequestResponse(c, "Validation failed", err.Error())
		return
	}
	credit, err := humanize.ParseBytes(req.Credit)
	if err != nil || credit == 0 {
		utils.BadRequestResponse(c, "Invalid credit size", req.Credit)
		return
	}

	coupon, err := ac.couponService.CreateCoupon(c.Request.Context(), services.CreateCouponRequest{
		Code:        req.Code,
		CreditBytes: int64(credit),
		MaxUses:     req.MaxUses,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		utils.HandleServiceError(c, ac.logger, err)
		return
	}
	utils.CreatedResponse(c, "Coupon created", coupon)
}
