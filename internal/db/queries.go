package db

import (
	"context"
	"errors"
	"slices"

	"greenhouse/internal/models"
	"greenhouse/internal/utils"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a looked-up row does not exist
var ErrNotFound = errors.New("not found")

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// GetConditional fetches a Conditional by unique id
func GetConditional(ctx context.Context, orm *gorm.DB, id string) (*models.Conditional, error) {
	var c models.Conditional
	if err := orm.WithContext(ctx).Where("unique_id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// GetActiveConditionals fetches every activated Conditional
func GetActiveConditionals(ctx context.Context, orm *gorm.DB) ([]models.Conditional, error) {
	var out []models.Conditional
	err := orm.WithContext(ctx).Where("is_activated = ?", true).Find(&out).Error
	return out, err
}

// GetConditionalConditions fetches the Conditions owned by a Conditional
func GetConditionalConditions(ctx context.Context, orm *gorm.DB, conditionalID string) ([]models.ConditionalCondition, error) {
	var out []models.ConditionalCondition
	err := orm.WithContext(ctx).Where("conditional_id = ?", conditionalID).Find(&out).Error
	return out, err
}

// GetCondition fetches a Condition by unique id
func GetCondition(ctx context.Context, orm *gorm.DB, id string) (*models.ConditionalCondition, error) {
	var c models.ConditionalCondition
	if err := orm.WithContext(ctx).Where("unique_id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// GetActions fetches the Actions owned by a function (Conditional)
func GetActions(ctx context.Context, orm *gorm.DB, functionID string) ([]models.Action, error) {
	var out []models.Action
	err := orm.WithContext(ctx).Where("function_id = ?", functionID).Find(&out).Error
	return out, err
}

// GetAction fetches an Action by unique id
func GetAction(ctx context.Context, orm *gorm.DB, id string) (*models.Action, error) {
	var a models.Action
	if err := orm.WithContext(ctx).Where("unique_id = ?", id).First(&a).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// SetConditionalActivated flips the activation flag
func SetConditionalActivated(ctx context.Context, orm *gorm.DB, id string, activated bool) error {
	res := orm.WithContext(ctx).Model(&models.Conditional{}).
		Where("unique_id = ?", id).
		Update("is_activated", activated)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetFunctionOrder returns the function display order
func GetFunctionOrder(ctx context.Context, orm *gorm.DB) ([]string, error) {
	var order models.DisplayOrder
	if err := orm.WithContext(ctx).First(&order).Error; err != nil {
		return nil, notFound(err)
	}
	return utils.ParseCSV(order.Function), nil
}

// AppendFunctionOrder adds an id to the end of the function display order
func AppendFunctionOrder(ctx context.Context, orm *gorm.DB, id string) error {
	return updateFunctionOrder(ctx, orm, func(ids []string) []string {
		return append(ids, id)
	})
}

// RemoveFunctionOrder drops an id from the function display order
func RemoveFunctionOrder(ctx context.Context, orm *gorm.DB, id string) error {
	return updateFunctionOrder(ctx, orm, func(ids []string) []string {
		return slices.DeleteFunc(ids, func(s string) bool { return s == id })
	})
}

func updateFunctionOrder(ctx context.Context, orm *gorm.DB, fn func([]string) []string) error {
	var order models.DisplayOrder
	err := orm.WithContext(ctx).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		order = models.DisplayOrder{}
	} else if err != nil {
		return err
	}
	order.Function = utils.JoinCSV(fn(utils.ParseCSV(order.Function)))
	return orm.WithContext(ctx).Save(&order).Error
}
